// Package collaborator defines the external-facing interfaces spec §6.2
// and §6.3 name but deliberately do not implement: the jurisdiction (J)
// layer adapter and the transport delivery adapter. Both are boundaries the
// deterministic kernel emits intents across and never calls directly
// (spec §1, §6.2) — on-chain execution and network transport are
// out-of-scope Non-goals, so this package is interfaces and outbox-shaped
// data only, grounded on the teacher's networkAdapter/securityAdapter/
// authorityAdapter injection boundary in core/consensus.go.
package collaborator

import "github.com/adimov-eth/xln-sub002/types"

// IntentKind enumerates the outbox intents the kernel emits for an
// external jurisdiction collaborator to translate into on-chain
// transactions (spec §6.2).
type IntentKind int

const (
	_ IntentKind = iota
	IntentRegisterEntity
	IntentSettleDiffs
	IntentFinalizeDispute
)

// TokenDiff is one token's net settlement delta carried by a
// settle_diffs intent.
type TokenDiff struct {
	TokenID types.TokenID
	Amount  []byte // signed big-endian magnitude; sign carried out-of-band by the account key's perspective
}

// Intent is a single instruction the kernel places in the outbox for the
// jurisdiction collaborator to execute on-chain (spec §6.2): "the core
// never calls on-chain directly. It emits intents into the outbox."
type Intent struct {
	Kind IntentKind

	// IntentRegisterEntity
	EntityID  types.EntityID
	BoardHash []byte

	// IntentSettleDiffs
	AccountKey types.AccountKey
	Diffs      []TokenDiff
	Signatures [][]byte

	// IntentFinalizeDispute
	ProofBody []byte
}

// JurisdictionEventKind enumerates the confirmations a jurisdiction
// collaborator feeds back into the kernel as ordinary EntityInputs (spec
// §6.2): "An external collaborator translates intents to transactions and
// feeds back confirmations as ordinary EntityInputs carrying jurisdiction
// events."
type JurisdictionEventKind int

const (
	_ JurisdictionEventKind = iota
	ReserveUpdated
	EntityRegistered
	SettlementProcessed
)

// JurisdictionEvent is the confirmation payload a jurisdiction adapter
// wraps into an entity.Tx{Kind: TxJurisdictionEvent} once an Intent has
// been observed finalized on-chain.
type JurisdictionEvent struct {
	Kind       JurisdictionEventKind
	EntityID   types.EntityID
	AccountKey types.AccountKey
	Detail     []byte
}

// JurisdictionAdapter is implemented by an external collaborator that
// drains registered/settlement/dispute intents from a runtime's outbox and
// submits them to an on-chain jurisdiction layer. The kernel never depends
// on a concrete implementation — this interface exists so a driver can
// wire one in without the deterministic reducer importing any transport or
// chain-client code (spec §1 Non-goals: "on-chain jurisdiction layer").
type JurisdictionAdapter interface {
	// Submit delivers one Intent for on-chain execution. Implementations
	// are expected to be asynchronous: confirmation flows back later as a
	// JurisdictionEvent fed through the ordinary input path, not as this
	// call's return value.
	Submit(intent Intent) error
}
