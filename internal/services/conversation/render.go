package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fastprodman/gamezone/internal/repos/transactions"
	"github.com/fastprodman/gamezone/internal/services/lobby"
	"github.com/fastprodman/gamezone/internal/services/wallet"
)

type Button struct {
	Text string
	Data string
}

// Message is a chat reply with an optional inline keyboard.
type Message struct {
	Text     string
	Keyboard [][]Button
}

func promptMessage(p Prompt, stake *int64, opts Options) Message {
	switch p {
	case PromptWelcome:
		return Message{
			Text: "Welcome! Create a wagered match or join an open one.",
			Keyboard: [][]Button{
				{{Text: "New match", Data: PlayToken}, {Text: "Open lobbies", Data: LobbiesToken}},
				{{Text: "Balance", Data: BalanceToken}},
			},
		}
	case PromptHelp:
		return Message{Text: strings.Join([]string{
			"/play - create a match",
			"/lobbies - list open matches",
			"/balance - show your wallet",
			"/deposit <amount> - top up",
			"/cancel - abort the current setup",
		}, "\n")}
	case PromptChooseStake:
		return stakeMenu("Choose your stake:", opts)
	case PromptInvalidStake:
		return stakeMenu("That stake is not offered. Choose one of:", opts)
	case PromptChooseWin:
		return winMenu(fmt.Sprintf("Stake %d. How many wins to take the match?", deref(stake)), opts)
	case PromptInvalidWin:
		return winMenu("That win condition is not offered. Choose one of:", opts)
	case PromptCancelled:
		return Message{Text: "Match setup cancelled."}
	case PromptNothingToCancel:
		return Message{Text: "Nothing to cancel."}
	case PromptStaleButton:
		return Message{Text: "That menu has expired. Send /play to start again."}
	case PromptDepositUsage:
		return Message{Text: "Usage: /deposit <amount>"}
	case PromptUnknown:
		return Message{Text: "Sorry, I did not understand that. Send /help for commands."}
	default:
		return Message{}
	}
}

func stakeMenu(text string, opts Options) Message {
	row := make([]Button, 0, len(opts.Stakes))
	for _, s := range opts.Stakes {
		row = append(row, Button{Text: strconv.FormatInt(s, 10), Data: StakeToken(s)})
	}

	return Message{Text: text, Keyboard: [][]Button{row, {{Text: "Cancel", Data: CancelToken}}}}
}

func winMenu(text string, opts Options) Message {
	row := make([]Button, 0, len(opts.WinConditions))
	for _, w := range opts.WinConditions {
		row = append(row, Button{Text: strconv.Itoa(w), Data: WinToken(w)})
	}

	return Message{Text: text, Keyboard: [][]Button{row, {{Text: "Cancel", Data: CancelToken}}}}
}

func lobbyCreatedMessage(l lobby.Lobby) Message {
	return Message{
		Text: fmt.Sprintf("Lobby open: stake %d, first to %d wins. Waiting for an opponent until %s.",
			l.Stake, l.WinCondition, l.ExpiresAt.Format("15:04 MST")),
		Keyboard: [][]Button{{{Text: "Cancel lobby", Data: CancelLobbyToken(l.ID)}}},
	}
}

func lobbyListMessage(list []lobby.Lobby, viewerID int64) Message {
	if len(list) == 0 {
		return Message{
			Text:     "No open lobbies right now.",
			Keyboard: [][]Button{{{Text: "New match", Data: PlayToken}}},
		}
	}

	var rows [][]Button

	for _, l := range list {
		label := fmt.Sprintf("Stake %d, first to %d", l.Stake, l.WinCondition)
		if l.CreatorID == viewerID {
			rows = append(rows, []Button{{Text: label + " (yours, cancel)", Data: CancelLobbyToken(l.ID)}})
			continue
		}

		rows = append(rows, []Button{{Text: label, Data: JoinToken(l.ID)}})
	}

	return Message{Text: "Open lobbies:", Keyboard: rows}
}

func balanceMessage(acc wallet.Account, recent []wallet.Transaction) Message {
	var b strings.Builder

	fmt.Fprintf(&b, "Balance: %d\nIn open matches: %d\nAvailable: %d", acc.Balance, acc.Held, acc.Available())

	if len(recent) > 0 {
		b.WriteString("\n\nRecent activity:")

		for _, t := range recent {
			b.WriteString("\n" + historyLine(t))
		}
	}

	return Message{
		Text:     b.String(),
		Keyboard: [][]Button{{{Text: "New match", Data: PlayToken}}},
	}
}

var historyLabels = map[transactions.Type]string{
	transactions.TypeDeposit:     "Deposit",
	transactions.TypeWithdrawal:  "Withdrawal",
	transactions.TypeStakeHold:   "Stake held",
	transactions.TypeRelease:     "Stake returned",
	transactions.TypeStakeDebit:  "Stake lost to pot",
	transactions.TypeStakePayout: "Winnings",
	transactions.TypeCommission:  "Commission",
}

func historyLine(t wallet.Transaction) string {
	label, ok := historyLabels[t.Type]
	if !ok {
		label = string(t.Type)
	}

	sign := ""

	switch t.Type {
	case transactions.TypeDeposit, transactions.TypeStakePayout, transactions.TypeCommission:
		sign = "+"
	case transactions.TypeWithdrawal, transactions.TypeStakeDebit:
		sign = "-"
	}

	line := fmt.Sprintf("%s %s%d", label, sign, t.Amount)
	if t.Status != transactions.StatusCompleted {
		line += " (" + string(t.Status) + ")"
	}

	return line
}

// domainMessage turns an expected business failure into chat text.
// ok is false for errors that are not the user's concern.
func domainMessage(err error) (Message, bool) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return Message{Text: "Insufficient funds for that stake. Top up with /deposit <amount>."}, true
	case errors.Is(err, wallet.ErrInvalidAmount):
		return Message{Text: "Amounts must be positive."}, true
	case errors.Is(err, lobby.ErrLobbyNotJoinable):
		return Message{Text: "That lobby is no longer open."}, true
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return Message{Text: "That lobby does not exist."}, true
	case errors.Is(err, lobby.ErrNotCreator):
		return Message{Text: "Only the creator can cancel this lobby."}, true
	case errors.Is(err, lobby.ErrNotCancellable):
		return Message{Text: "This lobby can no longer be cancelled."}, true
	case errors.Is(err, lobby.ErrInvalidLobby):
		return Message{Text: "That match setup is not valid."}, true
	case errors.Is(err, wallet.ErrInvariantViolation):
		// retrying cannot succeed, so the update is acknowledged
		return Message{Text: "Sorry, we could not process that. Our team has been alerted."}, true
	default:
		return Message{}, false
	}
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}

	return *p
}
