package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"e2e_messenger/internal/model"
)

// EncryptFunc advances a ratchet session toward one recipient.
type EncryptFunc func(ctx context.Context, recipientID string, plaintext []byte) (*model.Payload, error)

// DecryptFunc recovers plaintext from a ratchet payload sent by senderID.
type DecryptFunc func(ctx context.Context, senderID string, payload *model.Payload) ([]byte, error)

// Codec builds and opens the dual-payload wire envelope. The recipient slot
// is genuine ratchet ciphertext; the sender slot is a stable, non-advancing
// encoding of the same plaintext so the sender can re-read their own history
// without touching ratchet state. The sender slot is a display channel, not a
// security boundary: it is only ever selected for the author themselves.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

// Wrap encrypts plaintext for one recipient and stamps the envelope with the
// sender id so a reader can pick the slot meant for them.
func (c *Codec) Wrap(ctx context.Context, senderID, recipientID string, plaintext []byte, encrypt EncryptFunc) (*model.Envelope, error) {
	recipientPayload, err := encrypt(ctx, recipientID, plaintext)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		RecipientPayload: recipientPayload,
		SenderPayload:    senderCopy(plaintext),
		SenderID:         senderID,
	}, nil
}

// WrapGroup fans plaintext out to every member except the sender: one
// ratchet payload per member address, a single shared sender copy. Routing
// the per-member payloads to the right device is the relay's job.
func (c *Codec) WrapGroup(ctx context.Context, senderID string, members []string, plaintext []byte, encrypt EncryptFunc) (*model.GroupEnvelope, error) {
	payloads := make(map[string]*model.Payload, len(members))
	for _, member := range members {
		if member == senderID {
			continue
		}
		p, err := encrypt(ctx, member, plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt for %s: %w", member, err)
		}
		payloads[member] = p
	}
	return &model.GroupEnvelope{
		RecipientPayloads: payloads,
		SenderPayload:     senderCopy(plaintext),
		SenderID:          senderID,
	}, nil
}

// wireEnvelope accepts every historical envelope shape: the dual-payload
// format, the group fan-out, and the legacy flat {type, body}.
type wireEnvelope struct {
	RecipientPayload  *model.Payload            `json:"recipientPayload"`
	RecipientPayloads map[string]*model.Payload `json:"recipientPayloads"`
	SenderPayload     *model.Payload            `json:"senderPayload"`
	SenderID          string                    `json:"senderId"`

	// legacy flat payload
	Type int    `json:"type"`
	Body string `json:"body"`
}

// Unwrap opens raw envelope bytes for readerID. senderID is the transport's
// notion of who sent the message; the envelope's own stamp wins when present
// (legacy envelopes carry none). Non-JSON input is passed through as
// plaintext, matching pre-encryption history.
func (c *Codec) Unwrap(ctx context.Context, raw []byte, senderID, readerID string, decrypt DecryptFunc) (string, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return string(raw), nil
	}
	if env.SenderID != "" {
		senderID = env.SenderID
	}

	// The author reads their own stable copy; the ratchet slot is spent on
	// the recipient and never usable for sender self-read.
	if env.SenderPayload != nil && readerID == senderID {
		return decodeSenderCopy(env.SenderPayload)
	}

	payload := env.RecipientPayload
	if payload == nil && env.RecipientPayloads != nil {
		payload = env.RecipientPayloads[readerID]
		if payload == nil {
			return "", fmt.Errorf("no payload addressed to %s", readerID)
		}
	}
	if payload == nil {
		if env.Type == 0 || env.Body == "" {
			return string(raw), nil
		}
		// Legacy flat envelope: the whole object is the recipient payload.
		payload = &model.Payload{Type: env.Type, Body: env.Body}
	}

	plain, err := decrypt(ctx, senderID, payload)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func senderCopy(plaintext []byte) *model.Payload {
	return &model.Payload{
		Type: model.PayloadTypeSenderCopy,
		Body: base64.StdEncoding.EncodeToString(plaintext),
	}
}

func decodeSenderCopy(p *model.Payload) (string, error) {
	if p.Type != model.PayloadTypeSenderCopy {
		// Unknown sender-slot encoding: surface the body untouched rather
		// than failing the whole message.
		return p.Body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(p.Body)
	if err != nil {
		return "", fmt.Errorf("decode sender copy: %w", err)
	}
	return string(raw), nil
}
