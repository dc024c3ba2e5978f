package keystore

import "fmt"

// Address identifies one remote device: the Signal-style (name, deviceId)
// tuple every session is keyed by.
type Address struct {
	PeerID   string
	DeviceID int
}

func (a Address) String() string {
	return fmt.Sprintf("%s.%d", a.PeerID, a.DeviceID)
}

// Storage records. Key material is kept as base64 strings so every backend
// stores the same fixed encoding, never native binary.
type (
	IdentityRecord struct {
		IdentityPub    string `json:"identityPub"`  // X25519
		IdentityPriv   string `json:"identityPriv"` // X25519
		SigningPub     string `json:"signingPub"`   // Ed25519
		SigningPriv    string `json:"signingPriv"`  // Ed25519
		RegistrationID uint32 `json:"registrationId"`
	}

	PreKeyRecord struct {
		KeyID uint32 `json:"keyId"`
		Pub   string `json:"pub"`
		Priv  string `json:"priv"`
	}

	SignedPreKeyRecord struct {
		KeyID     uint32 `json:"keyId"`
		Pub       string `json:"pub"`
		Priv      string `json:"priv"`
		Signature string `json:"signature"`
	}
)

// Store is the durable per-device key store. Loads of missing entries return
// ok=false, never an error. Implementations must be safe for use from
// multiple goroutines; ratchet-state callers still serialize per peer on top.
type Store interface {
	LoadIdentity() (IdentityRecord, bool, error)
	SaveIdentity(rec IdentityRecord) error

	LoadSignedPreKey(keyID uint32) (SignedPreKeyRecord, bool, error)
	SaveSignedPreKey(rec SignedPreKeyRecord) error

	SaveOneTimePreKeys(recs []PreKeyRecord) error
	// ConsumeOneTimePreKey removes and returns the prekey: a second consume
	// of the same id reports ok=false.
	ConsumeOneTimePreKey(keyID uint32) (PreKeyRecord, bool, error)
	// MaxOneTimePreKeyID reports the highest id ever handed to
	// SaveOneTimePreKeys that is still stored, 0 when none are.
	MaxOneTimePreKeyID() (uint32, error)

	// Pinned peer identities for trust policies that compare on reconnect.
	LoadPinnedIdentity(peerID string) (string, bool, error)
	SavePinnedIdentity(peerID string, identityKey string) error

	LoadSession(addr Address) ([]byte, bool, error)
	SaveSession(addr Address, blob []byte) error
	DeleteSession(addr Address) error

	// Decryption cache entries, keyed (localUserID, messageID).
	LoadCachedPlaintext(userID, messageID string) (string, bool, error)
	SaveCachedPlaintext(userID, messageID, plaintext string) error

	Close() error
}

// Key layout shared by the backends. The prefixes match the reference store
// so a dump of either backend reads the same way.
const (
	keyIdentity       = "identityKey"
	prefixPreKey      = "2pk_"
	prefixSignedKey   = "2spk_"
	prefixPeerPin     = "identity_"
	prefixSession     = "sess_"
	prefixCachedPlain = "dec_msg_"
)

func preKeyKey(id uint32) string {
	return fmt.Sprintf("%s%d", prefixPreKey, id)
}

func signedPreKeyKey(id uint32) string {
	return fmt.Sprintf("%s%d", prefixSignedKey, id)
}

func sessionKey(addr Address) string {
	return prefixSession + addr.String()
}

func cachedPlainKey(userID, messageID string) string {
	return fmt.Sprintf("%s%s_%s", prefixCachedPlain, userID, messageID)
}
