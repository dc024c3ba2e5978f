package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/keystore"
	"e2e_messenger/internal/model"
	"e2e_messenger/internal/protocol/doubleratchet"
	"e2e_messenger/internal/protocol/x3dh"
	"e2e_messenger/internal/service/identity"
	"e2e_messenger/internal/utils/log"

	"go.uber.org/zap"
)

// DeviceID is the single device slot this client occupies per peer.
const DeviceID = 1

var (
	// ErrNoSession: an ordinary ratchet message arrived for a peer we never
	// established a session with.
	ErrNoSession = errors.New("no session with peer")

	// ErrUnknownPreKey: an inbound prekey-bearing message references a
	// one-time prekey id not held locally. It was already consumed or never
	// existed; the message is permanently undecryptable.
	ErrUnknownPreKey = errors.New("referenced one-time prekey not held locally")

	// ErrRatchetOutOfOrder: the session has advanced past this message's
	// position and no skipped key covers it. Non-retryable per message; the
	// rest of the session stays usable.
	ErrRatchetOutOfOrder = errors.New("ratchet out of order")

	// ErrUntrustedIdentity: the trust policy rejected the peer's identity key.
	ErrUntrustedIdentity = errors.New("peer identity key rejected by trust policy")

	// ErrSessionCorrupted: stored session state failed to deserialize.
	// Recoverable only via ResetSession.
	ErrSessionCorrupted = errors.New("stored session state corrupted")

	errBadSignature = errors.New("signed prekey signature verification failed")
)

// BundleFetcher is the slice of the key-bundle exchange the engine needs:
// a consuming read of a peer's published bundle.
type BundleFetcher interface {
	Fetch(ctx context.Context, peerID string) (*model.KeyBundle, error)
}

// SessionEngine drives the per-peer double-ratchet sessions. All ratchet
// mutation for one peer is serialized behind a per-peer lock; operations on
// distinct peers run in parallel.
type SessionEngine struct {
	store   keystore.Store
	fetcher BundleFetcher
	policy  TrustPolicy

	mu        sync.Mutex
	peerLocks map[string]*sync.Mutex
}

func NewSessionEngine(store keystore.Store, fetcher BundleFetcher, policy TrustPolicy) *SessionEngine {
	if policy == nil {
		policy = AcceptAll()
	}
	return &SessionEngine{
		store:     store,
		fetcher:   fetcher,
		policy:    policy,
		peerLocks: make(map[string]*sync.Mutex),
	}
}

// sessionRecord is the persisted per-peer session blob. Pending carries the
// X3DH handshake parameters and is attached to outgoing messages until the
// peer demonstrably holds the session (first successful inbound decrypt).
type sessionRecord struct {
	State   *doubleratchet.RatchetState `json:"state"`
	Pending *pendingHandshake           `json:"pending,omitempty"`
}

type pendingHandshake struct {
	RegistrationID  uint32  `json:"registrationId"`
	IdentityKey     []byte  `json:"identityKey"`
	EphemeralKey    []byte  `json:"ephemeralKey"`
	SignedPreKeyID  uint32  `json:"signedPreKeyId"`
	OneTimePreKeyID *uint32 `json:"oneTimePreKeyId,omitempty"`
}

// Encrypt produces the next outbound payload for peerID, establishing a
// session from the peer's published bundle when none exists yet. Every call
// advances and persists the sending chain.
func (e *SessionEngine) Encrypt(ctx context.Context, peerID string, plaintext []byte) (*model.Payload, error) {
	lock := e.peerLock(peerID)
	lock.Lock()
	defer lock.Unlock()

	addr := keystore.Address{PeerID: peerID, DeviceID: DeviceID}
	rec, err := e.loadSession(addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = e.establishInitiator(ctx, peerID)
		if err != nil {
			return nil, err
		}
	}

	hdr, ct, err := rec.State.Send(plaintext)
	if err != nil {
		return nil, err
	}

	var payload *model.Payload
	if rec.Pending != nil {
		payload, err = encodePreKeyPayload(rec.Pending, hdr, ct)
	} else {
		payload, err = encodeRatchetPayload(hdr, ct)
	}
	if err != nil {
		return nil, err
	}

	if err := e.saveSession(addr, rec); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decrypt recovers plaintext from an inbound payload. Prekey-bearing
// payloads (type 3) bootstrap the responder side of the session first.
func (e *SessionEngine) Decrypt(ctx context.Context, peerID string, payload *model.Payload) ([]byte, error) {
	lock := e.peerLock(peerID)
	lock.Lock()
	defer lock.Unlock()

	addr := keystore.Address{PeerID: peerID, DeviceID: DeviceID}
	rec, err := e.loadSession(addr)
	if err != nil {
		return nil, err
	}

	var hdr *model.Header
	var ct []byte

	switch payload.Type {
	case model.PayloadTypePreKey:
		pkm, err := decodePreKeyPayload(payload)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec, err = e.establishResponder(peerID, pkm)
			if err != nil {
				return nil, err
			}
		}
		hdr, ct = pkm.Header, pkm.Ciphertext

	case model.PayloadTypeRatchet:
		if rec == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, peerID)
		}
		rm, err := decodeRatchetPayload(payload)
		if err != nil {
			return nil, err
		}
		hdr, ct = rm.Header, rm.Ciphertext

	default:
		return nil, fmt.Errorf("unsupported payload type %d", payload.Type)
	}

	if hdr == nil {
		return nil, errors.New("payload missing ratchet header")
	}

	plain, err := rec.State.Receive(*hdr, ct)
	if err != nil {
		if errors.Is(err, doubleratchet.ErrOutOfOrder) || errors.Is(err, doubleratchet.ErrSkipLimit) {
			return nil, fmt.Errorf("%w: %v", ErrRatchetOutOfOrder, err)
		}
		return nil, err
	}

	// The peer clearly holds the session now; stop attaching the handshake.
	rec.Pending = nil

	if err := e.saveSession(addr, rec); err != nil {
		return nil, err
	}
	return plain, nil
}

// HasSession reports whether a session exists for the peer.
func (e *SessionEngine) HasSession(peerID string) (bool, error) {
	_, ok, err := e.store.LoadSession(keystore.Address{PeerID: peerID, DeviceID: DeviceID})
	return ok, err
}

// ResetSession drops the stored session. The next send re-establishes from a
// fresh bundle fetch; the old one-time prekey is gone, so re-fetching is the
// only way back.
func (e *SessionEngine) ResetSession(peerID string) error {
	lock := e.peerLock(peerID)
	lock.Lock()
	defer lock.Unlock()
	return e.store.DeleteSession(keystore.Address{PeerID: peerID, DeviceID: DeviceID})
}

// establishInitiator fetches the peer's bundle and runs the initiator side of
// the key agreement. Nothing is persisted until the full derivation succeeds,
// so an abandoned fetch leaves no half-established session behind.
func (e *SessionEngine) establishInitiator(ctx context.Context, peerID string) (*sessionRecord, error) {
	id, ok, err := e.store.LoadIdentity()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, identity.ErrIdentityMissing
	}

	bundle, err := e.fetcher.Fetch(ctx, peerID)
	if err != nil {
		return nil, err
	}

	trusted, err := e.policy.IsTrusted(peerID, bundle.IdentityKey)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedIdentity, peerID)
	}

	ikPubB, err := unb64(bundle.IdentityKey)
	if err != nil {
		return nil, err
	}
	signKeyB, err := unb64(bundle.SigningKey)
	if err != nil {
		return nil, err
	}
	spkPubB, err := unb64(bundle.SignedPreKey.PublicKey)
	if err != nil {
		return nil, err
	}
	spkSig, err := unb64(bundle.SignedPreKey.Signature)
	if err != nil {
		return nil, err
	}
	if !x3dh.VerifySignedPreKey(signKeyB, spkPubB, spkSig) {
		return nil, errBadSignature
	}
	if err := checkKeyLen(ikPubB, spkPubB); err != nil {
		return nil, err
	}

	var otkPub []byte
	var otkID *uint32
	if bundle.OneTimePreKey != nil {
		otkPub, err = unb64(bundle.OneTimePreKey.PublicKey)
		if err != nil {
			return nil, err
		}
		if err := checkKeyLen(otkPub); err != nil {
			return nil, err
		}
		keyID := bundle.OneTimePreKey.KeyID
		otkID = &keyID
	} else {
		log.Debug("peer one-time prekey inventory exhausted", zap.String("peer", peerID))
	}

	ikPriv, err := unb64(id.IdentityPriv)
	if err != nil {
		return nil, err
	}
	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	sender := &x3dh.X3DHSender{}
	sk, err := sender.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: ikPriv,
		EKPrivA: ekPriv[:],
		IKPubB:  ikPubB,
		SPKPubB: spkPubB,
		OTKPubB: otkPub,
	})
	if err != nil {
		return nil, err
	}

	ikPub, err := unb64(id.IdentityPub)
	if err != nil {
		return nil, err
	}

	root := doubleratchet.InitialRootKey(sk)
	state := doubleratchet.NewState(root, [32]byte{}, [32]byte{}, [32]byte(spkPubB))

	return &sessionRecord{
		State: state,
		Pending: &pendingHandshake{
			RegistrationID:  id.RegistrationID,
			IdentityKey:     ikPub,
			EphemeralKey:    ekPub[:],
			SignedPreKeyID:  bundle.SignedPreKey.KeyID,
			OneTimePreKeyID: otkID,
		},
	}, nil
}

// establishResponder derives the session from an inbound prekey message,
// consuming the referenced one-time prekey.
func (e *SessionEngine) establishResponder(peerID string, pkm *model.PreKeyMessage) (*sessionRecord, error) {
	id, ok, err := e.store.LoadIdentity()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, identity.ErrIdentityMissing
	}

	if err := checkKeyLen(pkm.IdentityKey, pkm.EphemeralKey); err != nil {
		return nil, err
	}

	trusted, err := e.policy.IsTrusted(peerID, b64(pkm.IdentityKey))
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedIdentity, peerID)
	}

	spk, ok, err := e.store.LoadSignedPreKey(pkm.SignedPreKeyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: signed prekey %d", ErrSessionCorrupted, pkm.SignedPreKeyID)
	}

	var otkPriv []byte
	if pkm.OneTimePreKeyID != nil {
		otk, ok, err := e.store.ConsumeOneTimePreKey(*pkm.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownPreKey, *pkm.OneTimePreKeyID)
		}
		otkPriv, err = unb64(otk.Priv)
		if err != nil {
			return nil, err
		}
	}

	ikPriv, err := unb64(id.IdentityPriv)
	if err != nil {
		return nil, err
	}
	spkPriv, err := unb64(spk.Priv)
	if err != nil {
		return nil, err
	}
	spkPub, err := unb64(spk.Pub)
	if err != nil {
		return nil, err
	}

	receiver := &x3dh.X3DHReceiver{}
	sk, err := receiver.GenerateShareKey(&model.ReceiverKeyBundle{
		IKPubA:   pkm.IdentityKey,
		EKPubA:   pkm.EphemeralKey,
		IKPrivB:  ikPriv,
		SPKPrivB: spkPriv,
		OTKPrivB: otkPriv,
	})
	if err != nil {
		return nil, err
	}

	root := doubleratchet.InitialRootKey(sk)
	state := doubleratchet.NewState(root, [32]byte(spkPriv), [32]byte(spkPub), [32]byte{})

	log.Debug("established responder session",
		zap.String("peer", peerID),
		zap.Uint32("registrationId", pkm.RegistrationID))

	return &sessionRecord{State: state}, nil
}

func (e *SessionEngine) loadSession(addr keystore.Address) (*sessionRecord, error) {
	blob, ok, err := e.store.LoadSession(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec sessionRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupted, err)
	}
	if rec.State == nil {
		return nil, fmt.Errorf("%w: empty ratchet state", ErrSessionCorrupted)
	}
	if rec.State.Skipped == nil {
		rec.State.Skipped = make(map[string][]byte)
	}
	return &rec, nil
}

func (e *SessionEngine) saveSession(addr keystore.Address, rec *sessionRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.store.SaveSession(addr, blob)
}

func (e *SessionEngine) peerLock(peerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.peerLocks[peerID]
	if !ok {
		lock = &sync.Mutex{}
		e.peerLocks[peerID] = lock
	}
	return lock
}

func encodePreKeyPayload(p *pendingHandshake, hdr *model.Header, ct []byte) (*model.Payload, error) {
	body, err := json.Marshal(&model.PreKeyMessage{
		RegistrationID:  p.RegistrationID,
		IdentityKey:     p.IdentityKey,
		EphemeralKey:    p.EphemeralKey,
		SignedPreKeyID:  p.SignedPreKeyID,
		OneTimePreKeyID: p.OneTimePreKeyID,
		Header:          hdr,
		Ciphertext:      ct,
	})
	if err != nil {
		return nil, err
	}
	return &model.Payload{Type: model.PayloadTypePreKey, Body: b64(body)}, nil
}

func encodeRatchetPayload(hdr *model.Header, ct []byte) (*model.Payload, error) {
	body, err := json.Marshal(&model.RatchetMessage{Header: hdr, Ciphertext: ct})
	if err != nil {
		return nil, err
	}
	return &model.Payload{Type: model.PayloadTypeRatchet, Body: b64(body)}, nil
}

func decodePreKeyPayload(payload *model.Payload) (*model.PreKeyMessage, error) {
	raw, err := unb64(payload.Body)
	if err != nil {
		return nil, err
	}
	var pkm model.PreKeyMessage
	if err := json.Unmarshal(raw, &pkm); err != nil {
		return nil, err
	}
	return &pkm, nil
}

func decodeRatchetPayload(payload *model.Payload) (*model.RatchetMessage, error) {
	raw, err := unb64(payload.Body)
	if err != nil {
		return nil, err
	}
	var rm model.RatchetMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, err
	}
	return &rm, nil
}

func checkKeyLen(keys ...[]byte) error {
	for _, k := range keys {
		if len(k) != 32 {
			return fmt.Errorf("expected 32-byte key, got %d bytes", len(k))
		}
	}
	return nil
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
