package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/fastprodman/gamezone/internal/services/conversation"
)

var ErrMalformedUpdate = errors.New("malformed telegram update")

// Update is a parsed webhook body. Event is nil for update kinds the bot
// ignores (edits, channel posts, messages from bots).
type Update struct {
	ID    int64
	Event *conversation.Event
}

func ParseUpdate(body []byte) (Update, error) {
	var u models.Update

	err := json.Unmarshal(body, &u)
	if err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}

	if u.ID == 0 {
		return Update{}, fmt.Errorf("%w: missing update_id", ErrMalformedUpdate)
	}

	out := Update{ID: u.ID}

	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.From.IsBot {
			return out, nil
		}

		ev := conversation.Event{
			UserID:      cq.From.ID,
			ChatID:      cq.From.ID,
			DisplayName: displayName(cq.From),
			Input:       conversation.DecodeCallback(cq.Data),
			CallbackID:  cq.ID,
		}

		// messages older than 48h arrive as inaccessible but keep chat and id
		switch m := cq.Message; {
		case m.Message != nil:
			ev.ChatID = m.Message.Chat.ID
			ev.MessageID = int64(m.Message.ID)
		case m.InaccessibleMessage != nil:
			ev.ChatID = m.InaccessibleMessage.Chat.ID
			ev.MessageID = int64(m.InaccessibleMessage.MessageID)
		}

		out.Event = &ev

	case u.Message != nil && u.Message.From != nil && !u.Message.From.IsBot:
		m := u.Message

		out.Event = &conversation.Event{
			UserID:      m.From.ID,
			ChatID:      m.Chat.ID,
			DisplayName: displayName(*m.From),
			Input:       conversation.DecodeText(m.Text),
		}
	}

	return out, nil
}

func displayName(u models.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}

	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
