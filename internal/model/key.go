package model

type (
	// SignedPreKeyPublic is the public half of a signed prekey plus the
	// signature made with the owner's signing key.
	SignedPreKeyPublic struct {
		KeyID     uint32 `json:"keyId" bson:"keyId"`
		PublicKey string `json:"publicKey" bson:"publicKey"` // base64
		Signature string `json:"signature" bson:"signature"` // base64
	}

	OneTimePreKeyPublic struct {
		KeyID     uint32 `json:"keyId" bson:"keyId"`
		PublicKey string `json:"publicKey" bson:"publicKey"` // base64
	}

	// KeyBundle is the public key material handed to a session initiator.
	// OneTimePreKey is nil once the peer's inventory is exhausted; that is a
	// valid bundle, the session just loses the one-time forward-secrecy leg.
	KeyBundle struct {
		IdentityKey    string               `json:"identityKey"` // base64 X25519
		SigningKey     string               `json:"signingKey"`  // base64 Ed25519
		RegistrationID uint32               `json:"registrationId"`
		SignedPreKey   SignedPreKeyPublic   `json:"signedPreKey"`
		OneTimePreKey  *OneTimePreKeyPublic `json:"oneTimePreKey"`
	}

	// KeyRecord is the directory document for one user's published material.
	KeyRecord struct {
		UserID         string                `json:"userId" bson:"userId"`
		IdentityKey    string                `json:"identityKey" bson:"identityKey"`
		SigningKey     string                `json:"signingKey" bson:"signingKey"`
		RegistrationID uint32                `json:"registrationId" bson:"registrationId"`
		SignedPreKey   SignedPreKeyPublic    `json:"signedPreKey" bson:"signedPreKey"`
		OneTimePreKeys []OneTimePreKeyPublic `json:"oneTimePreKeys" bson:"oneTimePreKeys"`
	}

	PublishResponse struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}
)
