// Package account implements the bilateral 2-of-2 account (channel) state
// machine: the RCPAN-bounded delta table, frame proposal/ack lifecycle,
// replay protection and the dispute-time subcontract engine (spec §4.4).
// Grounded on the teacher's core/state_channel.go (open/update/close/
// challenge/finalize lifecycle, ECDSA-signed off-chain state, escrow
// bookkeeping) generalized from a single aggregate balance per channel to a
// per-token delta table with credit lines on both sides.
package account

import (
	"math/big"

	"github.com/adimov-eth/xln-sub002/types"
)

// Delta is the per-token state of a bilateral account (spec §3).
type Delta struct {
	TokenID        types.TokenID
	Collateral     *big.Int // C >= 0
	OnDelta        *big.Int
	OffDelta       *big.Int
	CreditLeft     *big.Int // L_l >= 0
	CreditRight    *big.Int // L_r >= 0
	AllowanceLeft  *big.Int
	AllowanceRight *big.Int
	Subcontract    *SubcontractState // optional, opaque outside dispute path
}

// NewDelta builds a zeroed Delta for tokenID with the given collateral and
// credit lines.
func NewDelta(tokenID types.TokenID, collateral, creditLeft, creditRight *big.Int) Delta {
	return Delta{
		TokenID:        tokenID,
		Collateral:     cloneOrZero(collateral),
		OnDelta:        big.NewInt(0),
		OffDelta:       big.NewInt(0),
		CreditLeft:     cloneOrZero(creditLeft),
		CreditRight:    cloneOrZero(creditRight),
		AllowanceLeft:  big.NewInt(0),
		AllowanceRight: big.NewInt(0),
	}
}

func cloneOrZero(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}

// Net returns Δ = ondelta + offdelta.
func (d Delta) Net() *big.Int {
	return new(big.Int).Add(d.OnDelta, d.OffDelta)
}

// Clone returns a deep copy of d so callers can build a speculative working
// table without mutating committed state.
func (d Delta) Clone() Delta {
	c := d
	c.Collateral = new(big.Int).Set(d.Collateral)
	c.OnDelta = new(big.Int).Set(d.OnDelta)
	c.OffDelta = new(big.Int).Set(d.OffDelta)
	c.CreditLeft = new(big.Int).Set(d.CreditLeft)
	c.CreditRight = new(big.Int).Set(d.CreditRight)
	c.AllowanceLeft = new(big.Int).Set(d.AllowanceLeft)
	c.AllowanceRight = new(big.Int).Set(d.AllowanceRight)
	if d.Subcontract != nil {
		cp := *d.Subcontract
		c.Subcontract = &cp
	}
	return c
}

// CheckRCPAN validates the invariant −L_l ≤ Δ ≤ C + L_r (spec §3, §8.1).
// On violation it returns a *Error{Kind: RcpanViolation} carrying the token
// and the attempted delta for diagnostics.
func (d Delta) CheckRCPAN() error {
	delta := d.Net()
	lower := new(big.Int).Neg(d.CreditLeft)
	upper := new(big.Int).Add(d.Collateral, d.CreditRight)
	if delta.Cmp(lower) < 0 || delta.Cmp(upper) > 0 {
		return &Error{Kind: RcpanViolation, TokenID: d.TokenID, AttemptedDelta: delta}
	}
	return nil
}

// OutCapacity returns max(0, C + L_r - Δ): the amount the left party can
// still send rightward before exhausting collateral and right's credit
// line (spec §4.7).
func (d Delta) OutCapacity() *big.Int {
	cap := new(big.Int).Add(d.Collateral, d.CreditRight)
	cap.Sub(cap, d.Net())
	return clampNonNegative(cap)
}

// InCapacity returns max(0, L_l + Δ): the amount the left party can still
// receive from the right before exhausting its own credit line.
func (d Delta) InCapacity() *big.Int {
	cap := new(big.Int).Add(d.CreditLeft, d.Net())
	return clampNonNegative(cap)
}

func clampNonNegative(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		return big.NewInt(0)
	}
	return x
}

// CloneTable deep-copies a slice of deltas, preserving order.
func CloneTable(table []Delta) []Delta {
	out := make([]Delta, len(table))
	for i, d := range table {
		out[i] = d.Clone()
	}
	return out
}

// FindToken returns a pointer to the Delta for tokenID within table, or nil.
func FindToken(table []Delta, tokenID types.TokenID) *Delta {
	for i := range table {
		if table[i].TokenID.Equal(tokenID) {
			return &table[i]
		}
	}
	return nil
}

// TokenIDs returns the token ids present in table, in table order.
func TokenIDs(table []Delta) []types.TokenID {
	ids := make([]types.TokenID, len(table))
	for i, d := range table {
		ids[i] = d.TokenID
	}
	return ids
}

// EqualTables reports whether two delta tables describe identical state,
// used to validate that re-executing a counterparty's frame reproduces
// exactly the deltas_post they committed to (spec §4.4 Case A).
func EqualTables(a, b []Delta) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].TokenID.Equal(b[i].TokenID) {
			return false
		}
		if a[i].Net().Cmp(b[i].Net()) != 0 {
			return false
		}
		if a[i].Collateral.Cmp(b[i].Collateral) != 0 {
			return false
		}
		if a[i].CreditLeft.Cmp(b[i].CreditLeft) != 0 || a[i].CreditRight.Cmp(b[i].CreditRight) != 0 {
			return false
		}
	}
	return true
}
