package telegram

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/services/conversation"
)

func TestParseUpdate(t *testing.T) {
	t.Parallel()

	lobbyID := uuid.MustParse("6f1f5e9e-4c55-4a8e-9d7a-2f7f4b8f3c11")

	tests := []struct {
		name    string
		body    string
		wantID  int64
		want    *conversation.Event
		wantErr error
	}{
		{
			name:   "command",
			body:   `{"update_id":10,"message":{"message_id":5,"from":{"id":7,"first_name":"Abebe","last_name":"B"},"chat":{"id":7},"text":"/play@GameBot"}}`,
			wantID: 10,
			want: &conversation.Event{
				UserID: 7, ChatID: 7, DisplayName: "Abebe B", Input: conversation.Input{Kind: conversation.KindPlay},
			},
		},
		{
			name: "callback",
			body: `{"update_id":11,"callback_query":{"id":"cb-9","from":{"id":7,"username":"abebe"},` +
				`"message":{"message_id":44,"chat":{"id":7}},"data":"join:` + lobbyID.String() + `"}}`,
			wantID: 11,
			want: &conversation.Event{
				UserID: 7, ChatID: 7, DisplayName: "@abebe", CallbackID: "cb-9", MessageID: 44,
				Input: conversation.Input{Kind: conversation.KindJoin, LobbyID: lobbyID},
			},
		},
		{
			name: "callback_on_recent_message",
			body: `{"update_id":14,"callback_query":{"id":"cb-10","from":{"id":7,"first_name":"Abebe"},` +
				`"message":{"message_id":45,"date":1700000000,"chat":{"id":-100}},"data":"balance"}}`,
			wantID: 14,
			want: &conversation.Event{
				UserID: 7, ChatID: -100, DisplayName: "Abebe", CallbackID: "cb-10", MessageID: 45,
				Input: conversation.Input{Kind: conversation.KindBalance},
			},
		},
		{
			name:   "ignored_edit",
			body:   `{"update_id":12,"edited_message":{"message_id":5,"chat":{"id":7},"text":"x"}}`,
			wantID: 12,
		},
		{
			name:   "ignored_bot_sender",
			body:   `{"update_id":13,"message":{"message_id":5,"from":{"id":8,"is_bot":true},"chat":{"id":7},"text":"/start"}}`,
			wantID: 13,
		},
		{name: "not_json", body: `{`, wantErr: ErrMalformedUpdate},
		{name: "no_update_id", body: `{"message":{}}`, wantErr: ErrMalformedUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseUpdate([]byte(tt.body))
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}

			if got.ID != tt.wantID {
				t.Fatalf("update id: want %d, got %d", tt.wantID, got.ID)
			}

			switch {
			case tt.want == nil && got.Event != nil:
				t.Fatalf("want no event, got %+v", *got.Event)
			case tt.want != nil && (got.Event == nil || *got.Event != *tt.want):
				t.Fatalf("want %+v, got %+v", *tt.want, got.Event)
			}
		})
	}
}
