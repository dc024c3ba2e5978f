package identity

import (
	"context"
	"testing"

	"e2e_messenger/internal/cryptographic/signature"
	"e2e_messenger/internal/keystore"
	"e2e_messenger/internal/model"

	"github.com/stretchr/testify/require"
)

func TestGenerateIdentity(t *testing.T) {
	store := keystore.NewMemoryStore()
	svc := NewService(store)

	has, err := svc.HasIdentity()
	require.NoError(t, err)
	require.False(t, has)

	rec, err := svc.GenerateIdentity("alice")
	require.NoError(t, err)
	require.Equal(t, "alice", rec.UserID)
	require.NotEmpty(t, rec.IdentityKey)
	require.NotEmpty(t, rec.SigningKey)
	require.NotZero(t, rec.RegistrationID)
	require.EqualValues(t, SignedPreKeyID, rec.SignedPreKey.KeyID)
	require.Len(t, rec.OneTimePreKeys, PreKeyBatchSize)

	// The published signed prekey must verify against the signing key.
	signPub, err := unb64(rec.SigningKey)
	require.NoError(t, err)
	spkPub, err := unb64(rec.SignedPreKey.PublicKey)
	require.NoError(t, err)
	sig, err := unb64(rec.SignedPreKey.Signature)
	require.NoError(t, err)
	require.True(t, signature.Ed25519Verify(signPub, spkPub, sig))

	has, err = svc.HasIdentity()
	require.NoError(t, err)
	require.True(t, has)

	_, err = svc.GenerateIdentity("alice")
	require.ErrorIs(t, err, ErrIdentityExists)
}

func TestRefillContinuesIDSequence(t *testing.T) {
	store := keystore.NewMemoryStore()
	svc := NewService(store)

	_, err := svc.GenerateIdentity("alice")
	require.NoError(t, err)

	fresh, err := svc.RefillPreKeys(5)
	require.NoError(t, err)
	require.Len(t, fresh, 5)
	for i, k := range fresh {
		require.EqualValues(t, PreKeyBatchSize+1+i, k.KeyID)
	}
}

func TestRotateSignedPreKey(t *testing.T) {
	store := keystore.NewMemoryStore()
	svc := NewService(store)

	_, err := svc.RotateSignedPreKey(2)
	require.ErrorIs(t, err, ErrIdentityMissing)

	rec, err := svc.GenerateIdentity("alice")
	require.NoError(t, err)

	rotated, err := svc.RotateSignedPreKey(2)
	require.NoError(t, err)
	require.EqualValues(t, 2, rotated.KeyID)
	require.NotEqual(t, rec.SignedPreKey.PublicKey, rotated.PublicKey)

	stored, ok, err := store.LoadSignedPreKey(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rotated.PublicKey, stored.Pub)

	signPub, err := unb64(rec.SigningKey)
	require.NoError(t, err)
	spkPub, err := unb64(rotated.PublicKey)
	require.NoError(t, err)
	sig, err := unb64(rotated.Signature)
	require.NoError(t, err)
	require.True(t, signature.Ed25519Verify(signPub, spkPub, sig))
}

type fakePublisher struct {
	count     int
	published []model.OneTimePreKeyPublic
}

func (f *fakePublisher) Count(context.Context) (int, error) {
	return f.count, nil
}

func (f *fakePublisher) PublishPreKeys(_ context.Context, keys []model.OneTimePreKeyPublic) (int, error) {
	f.published = append(f.published, keys...)
	return f.count + len(keys), nil
}

func TestEnsurePreKeysRefillsBelowWaterMark(t *testing.T) {
	store := keystore.NewMemoryStore()
	svc := NewService(store)
	_, err := svc.GenerateIdentity("alice")
	require.NoError(t, err)

	pub := &fakePublisher{count: LowWaterMark - 1}
	require.NoError(t, svc.EnsurePreKeys(context.Background(), pub))
	require.Len(t, pub.published, PreKeyBatchSize)
}

func TestEnsurePreKeysIdleAboveWaterMark(t *testing.T) {
	store := keystore.NewMemoryStore()
	svc := NewService(store)
	_, err := svc.GenerateIdentity("alice")
	require.NoError(t, err)

	pub := &fakePublisher{count: LowWaterMark}
	require.NoError(t, svc.EnsurePreKeys(context.Background(), pub))
	require.Empty(t, pub.published)
}
