package conversation

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindStart       Kind = "start"
	KindPlay        Kind = "play"
	KindStake       Kind = "stake"
	KindWin         Kind = "win"
	KindCancel      Kind = "cancel"
	KindJoin        Kind = "join"
	KindCancelLobby Kind = "cancel_lobby"
	KindBalance     Kind = "balance"
	KindDeposit     Kind = "deposit"
	KindLobbies     Kind = "lobbies"
	KindHelp        Kind = "help"
	KindNumber      Kind = "number"
	KindUnknown     Kind = "unknown"
)

// Input is one decoded user action, from a button or from text.
type Input struct {
	Kind    Kind
	Amount  int64 // stake, deposit or bare number
	Win     int
	LobbyID uuid.UUID
}

// Callback tokens carried by inline buttons.
func StakeToken(amount int64) string { return "stake:" + strconv.FormatInt(amount, 10) }

func WinToken(n int) string { return "win:" + strconv.Itoa(n) }

func JoinToken(id uuid.UUID) string { return "join:" + id.String() }

func CancelLobbyToken(id uuid.UUID) string { return "cancel_lobby:" + id.String() }

const (
	CancelToken  = "cancel"
	PlayToken    = "play"
	LobbiesToken = "lobbies"
	BalanceToken = "balance"
)

// DecodeCallback parses a button token. Anything malformed is KindUnknown.
func DecodeCallback(data string) Input {
	key, arg, hasArg := strings.Cut(strings.TrimSpace(data), ":")

	switch key {
	case "stake":
		n, err := strconv.ParseInt(arg, 10, 64)
		if !hasArg || err != nil || n <= 0 {
			return Input{Kind: KindUnknown}
		}

		return Input{Kind: KindStake, Amount: n}
	case "win":
		n, err := strconv.Atoi(arg)
		if !hasArg || err != nil || n <= 0 {
			return Input{Kind: KindUnknown}
		}

		return Input{Kind: KindWin, Win: n}
	case "join", "cancel_lobby":
		id, err := uuid.Parse(arg)
		if !hasArg || err != nil {
			return Input{Kind: KindUnknown}
		}

		if key == "join" {
			return Input{Kind: KindJoin, LobbyID: id}
		}

		return Input{Kind: KindCancelLobby, LobbyID: id}
	case CancelToken, PlayToken, LobbiesToken, BalanceToken:
		if hasArg {
			return Input{Kind: KindUnknown}
		}

		return Input{Kind: Kind(key)}
	default:
		return Input{Kind: KindUnknown}
	}
}

// DecodeText parses a typed message. Commands may carry a bot suffix
// ("/play@SomeBot"); a bare number is a stake or win choice depending on
// the conversation state, which Transition resolves.
func DecodeText(text string) Input {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Input{Kind: KindUnknown}
	}

	cmd := strings.ToLower(fields[0])
	cmd, _, _ = strings.Cut(cmd, "@")
	cmd = strings.TrimPrefix(cmd, "/")

	switch cmd {
	case "start":
		return Input{Kind: KindStart}
	case "play", "new":
		return Input{Kind: KindPlay}
	case "cancel", "stop":
		return Input{Kind: KindCancel}
	case "balance", "wallet":
		return Input{Kind: KindBalance}
	case "lobbies", "open":
		return Input{Kind: KindLobbies}
	case "help":
		return Input{Kind: KindHelp}
	case "deposit":
		in := Input{Kind: KindDeposit}

		if len(fields) > 1 {
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err == nil {
				in.Amount = n
			}
		}

		return in
	case "join":
		if len(fields) > 1 {
			id, err := uuid.Parse(fields[1])
			if err == nil {
				return Input{Kind: KindJoin, LobbyID: id}
			}
		}

		return Input{Kind: KindUnknown}
	}

	if len(fields) == 1 {
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err == nil && n > 0 {
			return Input{Kind: KindNumber, Amount: n}
		}
	}

	return Input{Kind: KindUnknown}
}
