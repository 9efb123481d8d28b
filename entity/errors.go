package entity

import "fmt"

// Kind enumerates the entity-consensus failure taxonomy (spec §7).
type Kind int

const (
	_ Kind = iota
	HeightMismatch
	FrameHashMismatch
	LockedOnDifferentFrame
	InsufficientPower
	DoubleSign
	ReplayedNonce
)

func (k Kind) String() string {
	switch k {
	case HeightMismatch:
		return "HeightMismatch"
	case FrameHashMismatch:
		return "FrameHashMismatch"
	case LockedOnDifferentFrame:
		return "LockedOnDifferentFrame"
	case InsufficientPower:
		return "InsufficientPower"
	case DoubleSign:
		return "DoubleSign"
	case ReplayedNonce:
		return "ReplayedNonce"
	default:
		return "Unknown"
	}
}

// Error is the typed error value attached to a rejected entity input. It is
// returned as a plain data value and never unwinds past the operation
// boundary (spec §7).
type Error struct {
	Kind    Kind
	Height  uint64
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("entity: %s at height %d: %s", e.Kind, e.Height, e.Detail)
	}
	return fmt.Sprintf("entity: %s at height %d", e.Kind, e.Height)
}
