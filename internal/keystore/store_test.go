package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Every backend must behave identically; the suite runs against both.
func runStores(t *testing.T, test func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		test(t, NewMemoryStore())
	})
	t.Run("badger", func(t *testing.T) {
		s, err := OpenBadger(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		test(t, s)
	})
}

func TestIdentityRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		_, ok, err := s.LoadIdentity()
		require.NoError(t, err)
		require.False(t, ok)

		rec := IdentityRecord{
			IdentityPub:    "ik-pub",
			IdentityPriv:   "ik-priv",
			SigningPub:     "sign-pub",
			SigningPriv:    "sign-priv",
			RegistrationID: 777,
		}
		require.NoError(t, s.SaveIdentity(rec))

		got, ok, err := s.LoadIdentity()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec, got)
	})
}

func TestSignedPreKeyRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		_, ok, err := s.LoadSignedPreKey(1)
		require.NoError(t, err)
		require.False(t, ok)

		rec := SignedPreKeyRecord{KeyID: 1, Pub: "pub", Priv: "priv", Signature: "sig"}
		require.NoError(t, s.SaveSignedPreKey(rec))

		got, ok, err := s.LoadSignedPreKey(1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec, got)
	})
}

func TestOneTimePreKeyConsumeOnce(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		recs := []PreKeyRecord{
			{KeyID: 1, Pub: "p1", Priv: "s1"},
			{KeyID: 2, Pub: "p2", Priv: "s2"},
			{KeyID: 7, Pub: "p7", Priv: "s7"},
		}
		require.NoError(t, s.SaveOneTimePreKeys(recs))

		maxID, err := s.MaxOneTimePreKeyID()
		require.NoError(t, err)
		require.EqualValues(t, 7, maxID)

		got, ok, err := s.ConsumeOneTimePreKey(2)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, recs[1], got)

		_, ok, err = s.ConsumeOneTimePreKey(2)
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = s.ConsumeOneTimePreKey(99)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestMaxOneTimePreKeyIDEmpty(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		maxID, err := s.MaxOneTimePreKeyID()
		require.NoError(t, err)
		require.Zero(t, maxID)
	})
}

func TestSessionRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		addr := Address{PeerID: "bob", DeviceID: 1}

		_, ok, err := s.LoadSession(addr)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.SaveSession(addr, []byte(`{"state":1}`)))
		blob, ok, err := s.LoadSession(addr)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte(`{"state":1}`), blob)

		// Another device of the same peer is a distinct session.
		_, ok, err = s.LoadSession(Address{PeerID: "bob", DeviceID: 2})
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.DeleteSession(addr))
		_, ok, err = s.LoadSession(addr)
		require.NoError(t, err)
		require.False(t, ok)

		// Deleting a missing session is a no-op.
		require.NoError(t, s.DeleteSession(addr))
	})
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveIdentity(IdentityRecord{IdentityPub: "ik", RegistrationID: 9}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()

	rec, ok, err := s.LoadIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ik", rec.IdentityPub)
	require.EqualValues(t, 9, rec.RegistrationID)
}

func TestPinnedIdentityRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		_, ok, err := s.LoadPinnedIdentity("bob")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.SavePinnedIdentity("bob", "key-one"))
		got, ok, err := s.LoadPinnedIdentity("bob")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "key-one", got)
	})
}

func TestCachedPlaintextRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		_, ok, err := s.LoadCachedPlaintext("alice", "m1")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.SaveCachedPlaintext("alice", "m1", "hello"))
		got, ok, err := s.LoadCachedPlaintext("alice", "m1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "hello", got)
	})
}
