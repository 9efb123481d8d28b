package account

import (
	"fmt"
	"math/big"

	"github.com/adimov-eth/xln-sub002/types"
)

// Kind enumerates the account-layer consensus failure taxonomy (spec §7).
type Kind int

const (
	_ Kind = iota
	Replay
	ChainBroken
	StateDivergence
	RcpanViolation
)

func (k Kind) String() string {
	switch k {
	case Replay:
		return "Replay"
	case ChainBroken:
		return "ChainBroken"
	case StateDivergence:
		return "StateDivergence"
	case RcpanViolation:
		return "RcpanViolation"
	default:
		return "Unknown"
	}
}

// Error is the typed error value attached to a rejected account input or
// proposal. It never unwinds past the operation boundary (spec §7): callers
// receive it as a normal return value.
type Error struct {
	Kind           Kind
	TokenID        types.TokenID
	AttemptedDelta *big.Int
	Counter        uint64
	Detail         string
}

func (e *Error) Error() string {
	switch e.Kind {
	case RcpanViolation:
		return fmt.Sprintf("account: RcpanViolation token=%s attempted_delta=%s", e.TokenID, e.AttemptedDelta)
	case Replay:
		return fmt.Sprintf("account: Replay counter=%d", e.Counter)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("account: %s: %s", e.Kind, e.Detail)
		}
		return fmt.Sprintf("account: %s", e.Kind)
	}
}
