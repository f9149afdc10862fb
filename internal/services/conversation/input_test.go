package conversation

import (
	"testing"

	"github.com/google/uuid"
)

func TestDecodeCallback(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("8a1c2b3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")

	tests := []struct {
		data string
		want Input
	}{
		{data: "stake:50", want: Input{Kind: KindStake, Amount: 50}},
		{data: "win:2", want: Input{Kind: KindWin, Win: 2}},
		{data: "join:" + id.String(), want: Input{Kind: KindJoin, LobbyID: id}},
		{data: "cancel_lobby:" + id.String(), want: Input{Kind: KindCancelLobby, LobbyID: id}},
		{data: "cancel", want: Input{Kind: KindCancel}},
		{data: "play", want: Input{Kind: KindPlay}},
		{data: "lobbies", want: Input{Kind: KindLobbies}},
		{data: "balance", want: Input{Kind: KindBalance}},
		{data: StakeToken(100), want: Input{Kind: KindStake, Amount: 100}},
		{data: WinToken(3), want: Input{Kind: KindWin, Win: 3}},
		{data: "stake:-5", want: Input{Kind: KindUnknown}},
		{data: "stake:0", want: Input{Kind: KindUnknown}},
		{data: "stake:abc", want: Input{Kind: KindUnknown}},
		{data: "stake", want: Input{Kind: KindUnknown}},
		{data: "win:", want: Input{Kind: KindUnknown}},
		{data: "join:not-a-uuid", want: Input{Kind: KindUnknown}},
		{data: "cancel:extra", want: Input{Kind: KindUnknown}},
		{data: "", want: Input{Kind: KindUnknown}},
		{data: "withdraw:10", want: Input{Kind: KindUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			t.Parallel()

			got := DecodeCallback(tt.data)
			if got != tt.want {
				t.Fatalf("DecodeCallback(%q): want %+v, got %+v", tt.data, tt.want, got)
			}
		})
	}
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	tests := []struct {
		text string
		want Input
	}{
		{text: "/start", want: Input{Kind: KindStart}},
		{text: "/start@GameZoneBot", want: Input{Kind: KindStart}},
		{text: "/play", want: Input{Kind: KindPlay}},
		{text: "  /PLAY  ", want: Input{Kind: KindPlay}},
		{text: "/cancel", want: Input{Kind: KindCancel}},
		{text: "/balance", want: Input{Kind: KindBalance}},
		{text: "/lobbies", want: Input{Kind: KindLobbies}},
		{text: "/help", want: Input{Kind: KindHelp}},
		{text: "/deposit 500", want: Input{Kind: KindDeposit, Amount: 500}},
		{text: "/deposit", want: Input{Kind: KindDeposit}},
		{text: "/deposit lots", want: Input{Kind: KindDeposit}},
		{text: "/join " + id.String(), want: Input{Kind: KindJoin, LobbyID: id}},
		{text: "/join nope", want: Input{Kind: KindUnknown}},
		{text: "50", want: Input{Kind: KindNumber, Amount: 50}},
		{text: "0", want: Input{Kind: KindUnknown}},
		{text: "hello there", want: Input{Kind: KindUnknown}},
		{text: "", want: Input{Kind: KindUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			got := DecodeText(tt.text)
			if got != tt.want {
				t.Fatalf("DecodeText(%q): want %+v, got %+v", tt.text, tt.want, got)
			}
		})
	}
}
