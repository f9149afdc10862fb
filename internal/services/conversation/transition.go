package conversation

import (
	"slices"

	"github.com/google/uuid"

	"github.com/fastprodman/gamezone/internal/repos/conversations"
)

type State = conversations.State

const (
	StateIdle                 = conversations.StateIdle
	StateAwaitingStake        = conversations.StateAwaitingStake
	StateAwaitingWinCondition = conversations.StateAwaitingWinCondition
)

// Options are the choices offered while setting up a lobby.
type Options struct {
	Stakes        []int64
	WinConditions []int
}

// Effect is the side effect a decision asks the engine to perform.
type Effect int

const (
	EffectNone Effect = iota
	EffectCreateLobby
	EffectJoinLobby
	EffectCancelLobby
	EffectShowBalance
	EffectStartDeposit
	EffectListLobbies
)

// Prompt selects the reply shown to the user.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptWelcome
	PromptHelp
	PromptChooseStake
	PromptChooseWin
	PromptInvalidStake
	PromptInvalidWin
	PromptCancelled
	PromptNothingToCancel
	PromptStaleButton
	PromptUnknown
	PromptDepositUsage
)

// Decision is the outcome of one transition. Stake is the selection
// carried into the next state.
type Decision struct {
	Next    State
	Stake   *int64
	Effect  Effect
	Prompt  Prompt
	Win     int
	Amount  int64
	LobbyID uuid.UUID
}

// Transition is the conversation table. It is pure: all I/O happens in
// the Engine around it.
//
//nolint:cyclop
func Transition(state State, stake *int64, in Input, opts Options) Decision {
	stay := Decision{Next: state, Stake: stake}

	// inputs that work the same in every state
	switch in.Kind {
	case KindStart:
		return Decision{Next: StateIdle, Prompt: PromptWelcome}
	case KindHelp:
		stay.Prompt = PromptHelp
		return stay
	case KindPlay:
		return Decision{Next: StateAwaitingStake, Prompt: PromptChooseStake}
	case KindCancel:
		if state == StateIdle {
			return Decision{Next: StateIdle, Prompt: PromptNothingToCancel}
		}

		return Decision{Next: StateIdle, Prompt: PromptCancelled}
	case KindJoin:
		stay.Effect, stay.LobbyID = EffectJoinLobby, in.LobbyID
		return stay
	case KindCancelLobby:
		stay.Effect, stay.LobbyID = EffectCancelLobby, in.LobbyID
		return stay
	case KindBalance:
		stay.Effect = EffectShowBalance
		return stay
	case KindLobbies:
		stay.Effect = EffectListLobbies
		return stay
	case KindDeposit:
		if in.Amount <= 0 {
			stay.Prompt = PromptDepositUsage
			return stay
		}

		stay.Effect, stay.Amount = EffectStartDeposit, in.Amount

		return stay
	}

	switch state {
	case StateAwaitingStake:
		switch in.Kind {
		case KindStake, KindNumber:
			return chooseStake(state, stake, in.Amount, opts)
		default:
			stay.Prompt = PromptChooseStake
			return stay
		}

	case StateAwaitingWinCondition:
		switch in.Kind {
		case KindStake:
			// an earlier stake button pressed again: change the selection
			return chooseStake(state, stake, in.Amount, opts)
		case KindWin, KindNumber:
			n := in.Win
			if in.Kind == KindNumber {
				n = int(in.Amount)
			}

			if stake == nil {
				return Decision{Next: StateAwaitingStake, Prompt: PromptChooseStake}
			}

			if !slices.Contains(opts.WinConditions, n) {
				stay.Prompt = PromptInvalidWin
				return stay
			}

			return Decision{Next: StateIdle, Effect: EffectCreateLobby, Amount: *stake, Win: n}
		default:
			stay.Prompt = PromptChooseWin
			return stay
		}

	default:
		switch in.Kind {
		case KindStake, KindWin:
			return Decision{Next: StateIdle, Prompt: PromptStaleButton}
		default:
			return Decision{Next: StateIdle, Prompt: PromptUnknown}
		}
	}
}

func chooseStake(state State, stake *int64, amount int64, opts Options) Decision {
	if !slices.Contains(opts.Stakes, amount) {
		return Decision{Next: state, Stake: stake, Prompt: PromptInvalidStake}
	}

	return Decision{Next: StateAwaitingWinCondition, Stake: &amount, Prompt: PromptChooseWin}
}
