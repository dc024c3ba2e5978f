package keys

import (
	"context"
	"fmt"

	"e2e_messenger/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MongoDirectory struct {
		collection *mongo.Collection
	}
)

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{
		collection: db.Collection("keys"),
	}
}

func (r *MongoDirectory) Upsert(ctx context.Context, rec *model.KeyRecord) (int, error) {
	filter := bson.M{"userId": rec.UserID}

	var existing model.KeyRecord
	err := r.collection.FindOne(ctx, filter).Decode(&existing)
	if err != nil && err != mongo.ErrNoDocuments {
		return 0, err
	}

	merged := mergePreKeys(existing.OneTimePreKeys, rec.OneTimePreKeys)

	set := bson.M{
		"userId":         rec.UserID,
		"oneTimePreKeys": merged,
	}
	// Identity fields are overwritten only when the caller sent them; a
	// prekey-only publish leaves them untouched.
	if rec.IdentityKey != "" {
		set["identityKey"] = rec.IdentityKey
		set["signingKey"] = rec.SigningKey
		set["registrationId"] = rec.RegistrationID
		set["signedPreKey"] = rec.SignedPreKey
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set}, opts); err != nil {
		return 0, err
	}
	return len(merged), nil
}

func (r *MongoDirectory) TakeBundle(ctx context.Context, userID string) (*model.KeyBundle, error) {
	filter := bson.M{"userId": userID}
	// Read the record and pop the first one-time prekey in one document
	// operation, so concurrent fetchers can never receive the same prekey.
	update := bson.M{"$pop": bson.M{"oneTimePreKeys": -1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var rec model.KeyRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	if rec.IdentityKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return bundleFromRecord(&rec), nil
}

func (r *MongoDirectory) CountOneTimePreKeys(ctx context.Context, userID string) (int, error) {
	filter := bson.M{"userId": userID}
	proj := options.FindOne().SetProjection(bson.M{"oneTimePreKeys": 1})

	var rec model.KeyRecord
	err := r.collection.FindOne(ctx, filter, proj).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(rec.OneTimePreKeys), nil
}

var _ Directory = (*MongoDirectory)(nil)
