package driver

import (
	"fmt"
	"sync"

	"github.com/adimov-eth/xln-sub002/entity"
	"github.com/adimov-eth/xln-sub002/runtime"
	"github.com/adimov-eth/xln-sub002/xcrypto"
)

// localSigner adapts one xcrypto.PrivateKey to entity.Signer, grounded on
// the teacher's securityAdapter injection boundary (core/consensus.go).
type localSigner struct {
	priv *xcrypto.PrivateKey
}

func (s localSigner) Sign(msgHash xcrypto.Hash) (xcrypto.Signature, error) {
	return xcrypto.Sign(s.priv, msgHash)
}

func (s localSigner) Verify(pub *xcrypto.PublicKey, msgHash xcrypto.Hash, sig xcrypto.Signature) bool {
	return xcrypto.Verify(pub, msgHash, sig)
}

// LocalKeyMaterial is a single-process runtime.KeyMaterial that holds one
// signing key per replica slot plus every replica's public key, suitable
// for a single xlnd instance hosting one or more local validators (spec
// §6.1's driver is responsible for supplying key material; the reducer
// never generates or stores it).
type LocalKeyMaterial struct {
	mu       sync.RWMutex
	signers  map[string]localSigner
	quorum   map[string]map[string]*xcrypto.PublicKey // slot key -> signer_id hex -> pubkey
}

// NewLocalKeyMaterial returns an empty key store ready for Register calls.
func NewLocalKeyMaterial() *LocalKeyMaterial {
	return &LocalKeyMaterial{
		signers: make(map[string]localSigner),
		quorum:  make(map[string]map[string]*xcrypto.PublicKey),
	}
}

func slotKey(slot runtime.ReplicaSlot) string {
	return fmt.Sprintf("%s/%s", slot.EntityID.String(), slot.SignerID.String())
}

// Register binds priv as the local signing key for slot and adds its public
// key to the named validator set quorum shares this process knows about.
func (k *LocalKeyMaterial) Register(slot runtime.ReplicaSlot, priv *xcrypto.PrivateKey, quorum map[string]*xcrypto.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sk := slotKey(slot)
	k.signers[sk] = localSigner{priv: priv}
	k.quorum[sk] = quorum
}

// SignerFor implements runtime.KeyMaterial.
func (k *LocalKeyMaterial) SignerFor(slot runtime.ReplicaSlot) entity.Signer {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.signers[slotKey(slot)]
}

// PublicKeysFor implements runtime.KeyMaterial.
func (k *LocalKeyMaterial) PublicKeysFor(slot runtime.ReplicaSlot) map[string]*xcrypto.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.quorum[slotKey(slot)]
}
