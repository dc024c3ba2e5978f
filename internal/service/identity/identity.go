package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/cryptographic/signature"
	"e2e_messenger/internal/keystore"
	"e2e_messenger/internal/model"
	"e2e_messenger/internal/utils/log"

	"go.uber.org/zap"
)

const (
	// SignedPreKeyID is the id of the signed prekey minted at identity
	// generation. Rotation replaces it by id.
	SignedPreKeyID = 1

	// PreKeyBatchSize one-time prekeys are generated per batch.
	PreKeyBatchSize = 10

	// LowWaterMark is the published inventory level that triggers a refill.
	LowWaterMark = 5
)

var (
	ErrIdentityExists  = errors.New("device already has an identity")
	ErrIdentityMissing = errors.New("device has no identity")
)

// Publisher is the slice of the key-bundle exchange the identity service
// needs for inventory upkeep.
type Publisher interface {
	Count(ctx context.Context) (int, error)
	PublishPreKeys(ctx context.Context, keys []model.OneTimePreKeyPublic) (int, error)
}

// Service owns the device's long-term identity and its prekey inventory.
type Service struct {
	store keystore.Store
}

func NewService(store keystore.Store) *Service {
	return &Service{store: store}
}

// HasIdentity reports whether this device already generated its identity.
func (s *Service) HasIdentity() (bool, error) {
	_, ok, err := s.store.LoadIdentity()
	return ok, err
}

// GenerateIdentity creates the device's identity keypair, signing keypair,
// registration id, signed prekey (id 1) and the first batch of one-time
// prekeys. Private halves go to the keystore; the returned record carries
// only public material for publication. Errors with ErrIdentityExists when
// called on an already provisioned device.
func (s *Service) GenerateIdentity(owner string) (*model.KeyRecord, error) {
	if _, ok, err := s.store.LoadIdentity(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrIdentityExists
	}

	ikPriv, ikPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	signPub, signPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	registrationID, err := newRegistrationID()
	if err != nil {
		return nil, err
	}

	rec := keystore.IdentityRecord{
		IdentityPub:    b64(ikPub[:]),
		IdentityPriv:   b64(ikPriv[:]),
		SigningPub:     b64(signPub),
		SigningPriv:    b64(signPriv),
		RegistrationID: registrationID,
	}
	if err := s.store.SaveIdentity(rec); err != nil {
		return nil, err
	}

	spkPriv, spkPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	sig := signature.Ed25519Sign(signPriv, spkPub[:])
	if err := s.store.SaveSignedPreKey(keystore.SignedPreKeyRecord{
		KeyID:     SignedPreKeyID,
		Pub:       b64(spkPub[:]),
		Priv:      b64(spkPriv[:]),
		Signature: b64(sig),
	}); err != nil {
		return nil, err
	}

	oneTime, err := s.generatePreKeys(1, PreKeyBatchSize)
	if err != nil {
		return nil, err
	}

	log.Info("generated device identity",
		zap.String("owner", owner),
		zap.Uint32("registrationId", registrationID),
		zap.Int("oneTimePreKeys", len(oneTime)))

	return &model.KeyRecord{
		UserID:         owner,
		IdentityKey:    rec.IdentityPub,
		SigningKey:     rec.SigningPub,
		RegistrationID: registrationID,
		SignedPreKey: model.SignedPreKeyPublic{
			KeyID:     SignedPreKeyID,
			PublicKey: b64(spkPub[:]),
			Signature: b64(sig),
		},
		OneTimePreKeys: oneTime,
	}, nil
}

// RotateSignedPreKey mints a replacement signed prekey under the given id.
func (s *Service) RotateSignedPreKey(keyID uint32) (*model.SignedPreKeyPublic, error) {
	id, ok, err := s.store.LoadIdentity()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIdentityMissing
	}
	signPriv, err := unb64(id.SigningPriv)
	if err != nil {
		return nil, err
	}

	spkPriv, spkPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	sig := signature.Ed25519Sign(signPriv, spkPub[:])
	if err := s.store.SaveSignedPreKey(keystore.SignedPreKeyRecord{
		KeyID:     keyID,
		Pub:       b64(spkPub[:]),
		Priv:      b64(spkPriv[:]),
		Signature: b64(sig),
	}); err != nil {
		return nil, err
	}
	return &model.SignedPreKeyPublic{
		KeyID:     keyID,
		PublicKey: b64(spkPub[:]),
		Signature: b64(sig),
	}, nil
}

// RefillPreKeys generates countNeeded new one-time prekeys continuing the id
// sequence past the highest stored id. Ids are never reused.
func (s *Service) RefillPreKeys(countNeeded int) ([]model.OneTimePreKeyPublic, error) {
	if countNeeded <= 0 {
		return nil, nil
	}
	maxID, err := s.store.MaxOneTimePreKeyID()
	if err != nil {
		return nil, err
	}
	return s.generatePreKeys(maxID+1, countNeeded)
}

// EnsurePreKeys checks the published inventory and refills + republishes when
// it falls under the low-water mark.
func (s *Service) EnsurePreKeys(ctx context.Context, pub Publisher) error {
	count, err := pub.Count(ctx)
	if err != nil {
		return err
	}
	if count >= LowWaterMark {
		return nil
	}

	fresh, err := s.RefillPreKeys(PreKeyBatchSize)
	if err != nil {
		return err
	}
	remaining, err := pub.PublishPreKeys(ctx, fresh)
	if err != nil {
		return err
	}
	log.Info("replenished one-time prekeys",
		zap.Int("had", count),
		zap.Int("added", len(fresh)),
		zap.Int("remaining", remaining))
	return nil
}

func (s *Service) generatePreKeys(startID uint32, n int) ([]model.OneTimePreKeyPublic, error) {
	recs := make([]keystore.PreKeyRecord, 0, n)
	publics := make([]model.OneTimePreKeyPublic, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := dh.NewX25519KeyPair()
		if err != nil {
			return nil, err
		}
		keyID := startID + uint32(i)
		recs = append(recs, keystore.PreKeyRecord{
			KeyID: keyID,
			Pub:   b64(pub[:]),
			Priv:  b64(priv[:]),
		})
		publics = append(publics, model.OneTimePreKeyPublic{
			KeyID:     keyID,
			PublicKey: b64(pub[:]),
		})
	}
	if err := s.store.SaveOneTimePreKeys(recs); err != nil {
		return nil, err
	}
	return publics, nil
}

// newRegistrationID picks a random 14-bit id, never zero.
func newRegistrationID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("rand.Read registration id: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:])%16380 + 1, nil
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
