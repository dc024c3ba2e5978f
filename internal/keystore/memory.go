package keystore

import "sync"

// MemoryStore is an in-memory Store, used in tests and as a scratch store for
// short-lived clients.
type MemoryStore struct {
	mu sync.Mutex

	identity    *IdentityRecord
	signedKeys  map[uint32]SignedPreKeyRecord
	oneTimeKeys map[uint32]PreKeyRecord
	pins        map[string]string
	sessions    map[string][]byte
	cached      map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signedKeys:  make(map[uint32]SignedPreKeyRecord),
		oneTimeKeys: make(map[uint32]PreKeyRecord),
		pins:        make(map[string]string),
		sessions:    make(map[string][]byte),
		cached:      make(map[string]string),
	}
}

func (s *MemoryStore) LoadIdentity() (IdentityRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return IdentityRecord{}, false, nil
	}
	return *s.identity, true, nil
}

func (s *MemoryStore) SaveIdentity(rec IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &rec
	return nil
}

func (s *MemoryStore) LoadSignedPreKey(keyID uint32) (SignedPreKeyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.signedKeys[keyID]
	return rec, ok, nil
}

func (s *MemoryStore) SaveSignedPreKey(rec SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedKeys[rec.KeyID] = rec
	return nil
}

func (s *MemoryStore) SaveOneTimePreKeys(recs []PreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.oneTimeKeys[rec.KeyID] = rec
	}
	return nil
}

func (s *MemoryStore) ConsumeOneTimePreKey(keyID uint32) (PreKeyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.oneTimeKeys[keyID]
	if !ok {
		return PreKeyRecord{}, false, nil
	}
	delete(s.oneTimeKeys, keyID)
	return rec, true, nil
}

func (s *MemoryStore) MaxOneTimePreKeyID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint32
	for id := range s.oneTimeKeys {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *MemoryStore) LoadPinnedIdentity(peerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.pins[peerID]
	return key, ok, nil
}

func (s *MemoryStore) SavePinnedIdentity(peerID string, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[peerID] = identityKey
	return nil
}

func (s *MemoryStore) LoadSession(addr Address) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.sessions[addr.String()]
	if !ok {
		return nil, false, nil
	}
	cpy := make([]byte, len(blob))
	copy(cpy, blob)
	return cpy, true, nil
}

func (s *MemoryStore) SaveSession(addr Address, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := make([]byte, len(blob))
	copy(cpy, blob)
	s.sessions[addr.String()] = cpy
	return nil
}

func (s *MemoryStore) DeleteSession(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, addr.String())
	return nil
}

func (s *MemoryStore) LoadCachedPlaintext(userID, messageID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plain, ok := s.cached[cachedPlainKey(userID, messageID)]
	return plain, ok, nil
}

func (s *MemoryStore) SaveCachedPlaintext(userID, messageID, plaintext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[cachedPlainKey(userID, messageID)] = plaintext
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
