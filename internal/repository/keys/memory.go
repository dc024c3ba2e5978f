package keys

import (
	"context"
	"fmt"
	"sync"

	"e2e_messenger/internal/model"
)

// MemoryDirectory is an in-memory Directory for tests and single-process
// deployments.
type MemoryDirectory struct {
	mu      sync.Mutex
	records map[string]*model.KeyRecord
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{records: make(map[string]*model.KeyRecord)}
}

func (r *MemoryDirectory) Upsert(_ context.Context, rec *model.KeyRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.UserID]
	if !ok {
		existing = &model.KeyRecord{UserID: rec.UserID}
		r.records[rec.UserID] = existing
	}

	if rec.IdentityKey != "" {
		existing.IdentityKey = rec.IdentityKey
		existing.SigningKey = rec.SigningKey
		existing.RegistrationID = rec.RegistrationID
		existing.SignedPreKey = rec.SignedPreKey
	}
	existing.OneTimePreKeys = mergePreKeys(existing.OneTimePreKeys, rec.OneTimePreKeys)
	return len(existing.OneTimePreKeys), nil
}

func (r *MemoryDirectory) TakeBundle(_ context.Context, userID string) (*model.KeyBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok || rec.IdentityKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}

	bundle := bundleFromRecord(rec)
	if len(rec.OneTimePreKeys) > 0 {
		rec.OneTimePreKeys = rec.OneTimePreKeys[1:]
	}
	return bundle, nil
}

func (r *MemoryDirectory) CountOneTimePreKeys(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return 0, nil
	}
	return len(rec.OneTimePreKeys), nil
}

var _ Directory = (*MemoryDirectory)(nil)
