package keys

import (
	"context"
	"errors"

	"e2e_messenger/internal/model"
)

// ErrNotFound: the user never published key material.
var ErrNotFound = errors.New("no published keys for user")

// Directory is the server-authoritative store of published key bundles.
// TakeBundle is deliberately a consuming read: handing out a one-time prekey
// and deleting it happen as one operation, so each prekey is issued at most
// once no matter how many requesters race.
type Directory interface {
	// Upsert overwrites identity/signed-prekey fields when present and
	// appends new one-time prekeys, deduplicated by key id. Returns the
	// remaining one-time prekey inventory.
	Upsert(ctx context.Context, rec *model.KeyRecord) (int, error)

	// TakeBundle returns the user's bundle with at most one one-time prekey,
	// atomically removed from the stored inventory. A nil OneTimePreKey in
	// the result means the inventory is empty.
	TakeBundle(ctx context.Context, userID string) (*model.KeyBundle, error)

	// CountOneTimePreKeys reports the remaining inventory.
	CountOneTimePreKeys(ctx context.Context, userID string) (int, error)
}

func bundleFromRecord(rec *model.KeyRecord) *model.KeyBundle {
	bundle := &model.KeyBundle{
		IdentityKey:    rec.IdentityKey,
		SigningKey:     rec.SigningKey,
		RegistrationID: rec.RegistrationID,
		SignedPreKey:   rec.SignedPreKey,
	}
	if len(rec.OneTimePreKeys) > 0 {
		otk := rec.OneTimePreKeys[0]
		bundle.OneTimePreKey = &otk
	}
	return bundle
}

func mergePreKeys(existing, incoming []model.OneTimePreKeyPublic) []model.OneTimePreKeyPublic {
	seen := make(map[uint32]bool, len(existing))
	for _, k := range existing {
		seen[k.KeyID] = true
	}
	merged := existing
	for _, k := range incoming {
		if seen[k.KeyID] {
			continue
		}
		seen[k.KeyID] = true
		merged = append(merged, k)
	}
	return merged
}
