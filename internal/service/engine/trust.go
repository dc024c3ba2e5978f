package engine

import "e2e_messenger/internal/keystore"

// TrustPolicy decides whether a peer's identity key is acceptable. The
// default is permissive; a deployment wanting pin-and-compare swaps in
// PinFirstUse without touching the engine.
type TrustPolicy interface {
	IsTrusted(peerID string, identityKey string) (bool, error)
}

type acceptAll struct{}

func (acceptAll) IsTrusted(string, string) (bool, error) { return true, nil }

// AcceptAll trusts every identity key on first use and forever after.
func AcceptAll() TrustPolicy { return acceptAll{} }

// PinFirstUse pins the first identity key seen for a peer and rejects any
// later change. Clearing a pin after an intentional re-install is a manual
// operation on the keystore.
type PinFirstUse struct {
	Store keystore.Store
}

func (p PinFirstUse) IsTrusted(peerID string, identityKey string) (bool, error) {
	pinned, ok, err := p.Store.LoadPinnedIdentity(peerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, p.Store.SavePinnedIdentity(peerID, identityKey)
	}
	return pinned == identityKey, nil
}
