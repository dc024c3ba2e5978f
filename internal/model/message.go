package model

import "encoding/json"

// Wire payload types. 3 and 1 follow the Signal convention for prekey-bearing
// and ordinary ratchet messages; 100 is an application-level tag for the
// sender's own stable copy.
const (
	PayloadTypeRatchet    = 1
	PayloadTypePreKey     = 3
	PayloadTypeSenderCopy = 100
)

type (
	// Header is the ratchet header carried along with each ciphertext.
	Header struct {
		Pub    [32]byte `json:"pub"`    // sender's current ratchet public key
		MsgNum uint32   `json:"msgNum"` // message number in the sending chain
		Prev   uint32   `json:"prev"`   // previous sending chain length (PN)
	}

	// Payload is one encrypted slot of an envelope: a type tag plus a
	// base64-encoded body.
	Payload struct {
		Type int    `json:"type"`
		Body string `json:"body"`
	}

	// PreKeyMessage is the decoded body of a type-3 payload: the X3DH
	// handshake parameters plus the first ratchet message.
	PreKeyMessage struct {
		RegistrationID  uint32  `json:"registrationId"`
		IdentityKey     []byte  `json:"identityKey"`  // sender X25519 identity pub
		EphemeralKey    []byte  `json:"ephemeralKey"` // sender X3DH ephemeral pub
		SignedPreKeyID  uint32  `json:"signedPreKeyId"`
		OneTimePreKeyID *uint32 `json:"oneTimePreKeyId,omitempty"`
		Header          *Header `json:"header"`
		Ciphertext      []byte  `json:"ciphertext"`
	}

	// RatchetMessage is the decoded body of a type-1 payload.
	RatchetMessage struct {
		Header     *Header `json:"header"`
		Ciphertext []byte  `json:"ciphertext"`
	}

	// Envelope is the dual-payload wire format. RecipientPayload is ratchet
	// ciphertext for the peer; SenderPayload is the sender's stable copy so
	// sent history stays readable after the ratchet has moved on.
	Envelope struct {
		RecipientPayload *Payload `json:"recipientPayload"`
		SenderPayload    *Payload `json:"senderPayload"`
		SenderID         string   `json:"senderId"`
	}

	// GroupEnvelope fans one message out to several members: one recipient
	// payload per member address, a single shared sender copy.
	GroupEnvelope struct {
		RecipientPayloads map[string]*Payload `json:"recipientPayloads"`
		SenderPayload     *Payload            `json:"senderPayload"`
		SenderID          string              `json:"senderId"`
	}

	// Message is the relay frame. The envelope travels verbatim as raw JSON;
	// the relay never looks inside it.
	Message struct {
		ID       string          `json:"id,omitempty"`
		From     string          `json:"from" validate:"required"`
		To       string          `json:"to" validate:"required"`
		Envelope json.RawMessage `json:"envelope" validate:"required"`
	}
)
