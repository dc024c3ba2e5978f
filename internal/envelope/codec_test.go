package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"e2e_messenger/internal/model"

	"github.com/stretchr/testify/require"
)

// The codec never looks inside payloads, so a reversible stand-in is enough.
func stubEncrypt(_ context.Context, _ string, plaintext []byte) (*model.Payload, error) {
	return &model.Payload{
		Type: model.PayloadTypeRatchet,
		Body: base64.StdEncoding.EncodeToString(plaintext),
	}, nil
}

func stubDecrypt(_ context.Context, _ string, payload *model.Payload) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload.Body)
}

func failingDecrypt(_ context.Context, _ string, _ *model.Payload) ([]byte, error) {
	return nil, errors.New("ratchet slot must not be touched")
}

func TestWrapUnwrapRecipient(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	env, err := c.Wrap(ctx, "alice", "bob", []byte("hi bob"), stubEncrypt)
	require.NoError(t, err)
	require.Equal(t, "alice", env.SenderID)
	require.NotNil(t, env.RecipientPayload)
	require.NotNil(t, env.SenderPayload)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := c.Unwrap(ctx, raw, "alice", "bob", stubDecrypt)
	require.NoError(t, err)
	require.Equal(t, "hi bob", got)
}

func TestSenderReadsOwnCopyWithoutRatchet(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	env, err := c.Wrap(ctx, "alice", "bob", []byte("my own words"), stubEncrypt)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := c.Unwrap(ctx, raw, "alice", "alice", failingDecrypt)
	require.NoError(t, err)
	require.Equal(t, "my own words", got)
}

func TestEnvelopeStampOverridesTransportSender(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	env, err := c.Wrap(ctx, "alice", "bob", []byte("stamped"), stubEncrypt)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// The transport claims another sender; the envelope's own stamp decides
	// that alice is still the author and gets the sender copy.
	got, err := c.Unwrap(ctx, raw, "eve", "alice", failingDecrypt)
	require.NoError(t, err)
	require.Equal(t, "stamped", got)
}

func TestGroupFanOut(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()
	members := []string{"alice", "bob", "carol"}

	env, err := c.WrapGroup(ctx, "alice", members, []byte("hello group"), stubEncrypt)
	require.NoError(t, err)
	require.Len(t, env.RecipientPayloads, 2)
	require.NotContains(t, env.RecipientPayloads, "alice")

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	for _, reader := range []string{"bob", "carol"} {
		got, err := c.Unwrap(ctx, raw, "alice", reader, stubDecrypt)
		require.NoError(t, err)
		require.Equal(t, "hello group", got)
	}

	got, err := c.Unwrap(ctx, raw, "alice", "alice", failingDecrypt)
	require.NoError(t, err)
	require.Equal(t, "hello group", got)

	_, err = c.Unwrap(ctx, raw, "alice", "mallory", stubDecrypt)
	require.Error(t, err)
}

func TestLegacyFlatEnvelope(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	raw, err := json.Marshal(&model.Payload{
		Type: model.PayloadTypeRatchet,
		Body: base64.StdEncoding.EncodeToString([]byte("old format")),
	})
	require.NoError(t, err)

	got, err := c.Unwrap(ctx, raw, "bob", "alice", stubDecrypt)
	require.NoError(t, err)
	require.Equal(t, "old format", got)
}

func TestPlaintextPassthrough(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	got, err := c.Unwrap(ctx, []byte("sent before encryption existed"), "bob", "alice", failingDecrypt)
	require.NoError(t, err)
	require.Equal(t, "sent before encryption existed", got)
}

func TestDecryptErrorPropagates(t *testing.T) {
	ctx := context.Background()
	c := NewCodec()

	env, err := c.Wrap(ctx, "alice", "bob", []byte("hi"), stubEncrypt)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = c.Unwrap(ctx, raw, "alice", "bob", failingDecrypt)
	require.Error(t, err)
}
