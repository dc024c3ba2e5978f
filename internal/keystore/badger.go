package keystore

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists the device's key material in a local badger DB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store under dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return NewBadgerStore(db), nil
}

// NewBadgerStore wraps an already opened DB, e.g. one shared with other
// subsystems.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) getJSON(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) LoadIdentity() (IdentityRecord, bool, error) {
	var rec IdentityRecord
	ok, err := s.getJSON(keyIdentity, &rec)
	return rec, ok, err
}

func (s *BadgerStore) SaveIdentity(rec IdentityRecord) error {
	return s.putJSON(keyIdentity, rec)
}

func (s *BadgerStore) LoadSignedPreKey(keyID uint32) (SignedPreKeyRecord, bool, error) {
	var rec SignedPreKeyRecord
	ok, err := s.getJSON(signedPreKeyKey(keyID), &rec)
	return rec, ok, err
}

func (s *BadgerStore) SaveSignedPreKey(rec SignedPreKeyRecord) error {
	return s.putJSON(signedPreKeyKey(rec.KeyID), rec)
}

func (s *BadgerStore) SaveOneTimePreKeys(recs []PreKeyRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(preKeyKey(rec.KeyID)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ConsumeOneTimePreKey(keyID uint32) (PreKeyRecord, bool, error) {
	var rec PreKeyRecord
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(preKeyKey(keyID))
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		found = true
		return txn.Delete(key)
	})
	if err != nil {
		return PreKeyRecord{}, false, err
	}
	return rec, found, nil
}

func (s *BadgerStore) MaxOneTimePreKeyID() (uint32, error) {
	var max uint32
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPreKey)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			suffix := strings.TrimPrefix(string(it.Item().Key()), prefixPreKey)
			id, err := strconv.ParseUint(suffix, 10, 32)
			if err != nil {
				continue
			}
			if uint32(id) > max {
				max = uint32(id)
			}
		}
		return nil
	})
	return max, err
}

func (s *BadgerStore) LoadPinnedIdentity(peerID string) (string, bool, error) {
	var key string
	ok, err := s.getJSON(prefixPeerPin+peerID, &key)
	return key, ok, err
}

func (s *BadgerStore) SavePinnedIdentity(peerID string, identityKey string) error {
	return s.putJSON(prefixPeerPin+peerID, identityKey)
}

func (s *BadgerStore) LoadSession(addr Address) ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey(addr)))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *BadgerStore) SaveSession(addr Address, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey(addr)), blob)
	})
}

func (s *BadgerStore) DeleteSession(addr Address) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(sessionKey(addr)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) LoadCachedPlaintext(userID, messageID string) (string, bool, error) {
	var plain string
	ok, err := s.getJSON(cachedPlainKey(userID, messageID), &plain)
	return plain, ok, err
}

func (s *BadgerStore) SaveCachedPlaintext(userID, messageID, plaintext string) error {
	return s.putJSON(cachedPlainKey(userID, messageID), plaintext)
}

var _ Store = (*BadgerStore)(nil)
