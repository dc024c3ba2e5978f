package cache

import "e2e_messenger/internal/keystore"

// DecryptionCache memoizes recovered plaintext per (local user, message id).
// Ratchet decryption consumes key material, so a message body can only be
// ratchet-decrypted once; callers check here before touching the session.
type DecryptionCache struct {
	store keystore.Store
}

func New(store keystore.Store) *DecryptionCache {
	return &DecryptionCache{store: store}
}

func (c *DecryptionCache) Get(userID, messageID string) (string, bool, error) {
	return c.store.LoadCachedPlaintext(userID, messageID)
}

// Put records a successful decrypt. Entries are written once per message;
// rewriting with the same content is harmless.
func (c *DecryptionCache) Put(userID, messageID, plaintext string) error {
	return c.store.SaveCachedPlaintext(userID, messageID, plaintext)
}
