package account

import (
	"math/big"

	"github.com/adimov-eth/xln-sub002/types"
)

// TxKind enumerates the account_tx kinds a frame can carry.
type TxKind int

const (
	// TxPayment moves amount along the bilateral delta in the direction
	// away from From: a payment initiated by the left party increases Δ
	// (the right party's receivable grows); a payment initiated by the
	// right party decreases Δ. See DESIGN.md for the sign-convention
	// resolution against spec §4.4 scenario S1.
	TxPayment TxKind = iota
	// TxSetCreditLimit adjusts one side's extended credit line.
	TxSetCreditLimit
	// TxSetAllowance adjusts one side's standing allowance.
	TxSetAllowance
)

// Tx is a single account-layer transaction queued in the mempool and
// applied when a frame is proposed.
type Tx struct {
	Kind    TxKind
	TokenID types.TokenID
	From    types.EntityID // initiating party, used to derive sign/perspective

	// TxPayment
	Amount *big.Int

	// TxSetCreditLimit / TxSetAllowance: nil fields are left unchanged.
	NewCreditLeft     *big.Int
	NewCreditRight    *big.Int
	NewAllowanceLeft  *big.Int
	NewAllowanceRight *big.Int
}

// Apply mutates table in place to reflect tx, creating the token's Delta
// entry (with zero collateral/credit) if it doesn't exist yet. It does not
// check RCPAN — callers validate the whole resulting table afterward so
// one tx's overshoot can be reported against the final, not intermediate,
// state.
func Apply(table []Delta, tx Tx, key types.AccountKey) []Delta {
	d := FindToken(table, tx.TokenID)
	if d == nil {
		table = append(table, NewDelta(tx.TokenID, nil, nil, nil))
		d = &table[len(table)-1]
	}

	switch tx.Kind {
	case TxPayment:
		amt := new(big.Int).Set(tx.Amount)
		if !key.IsLeft(tx.From) {
			amt.Neg(amt)
		}
		d.OffDelta.Add(d.OffDelta, amt)

	case TxSetCreditLimit:
		if tx.NewCreditLeft != nil {
			d.CreditLeft = new(big.Int).Set(tx.NewCreditLeft)
		}
		if tx.NewCreditRight != nil {
			d.CreditRight = new(big.Int).Set(tx.NewCreditRight)
		}

	case TxSetAllowance:
		if tx.NewAllowanceLeft != nil {
			d.AllowanceLeft = new(big.Int).Set(tx.NewAllowanceLeft)
		}
		if tx.NewAllowanceRight != nil {
			d.AllowanceRight = new(big.Int).Set(tx.NewAllowanceRight)
		}
	}
	return table
}

// ApplyAll folds txs over a cloned copy of table, returning the resulting
// working table. The input table is left untouched.
func ApplyAll(table []Delta, txs []Tx, key types.AccountKey) []Delta {
	working := CloneTable(table)
	for _, tx := range txs {
		working = Apply(working, tx, key)
	}
	return working
}

// CheckAllRCPAN validates every token in table, returning the first
// violation encountered (tokens are checked in table order, which callers
// keep sorted by TokenID for determinism).
func CheckAllRCPAN(table []Delta) error {
	for _, d := range table {
		if err := d.CheckRCPAN(); err != nil {
			return err
		}
	}
	return nil
}
