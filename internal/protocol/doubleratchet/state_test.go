package doubleratchet

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/model"

	"github.com/stretchr/testify/require"
)

// newPair builds two states sharing a root key, the way a finished key
// agreement leaves them: the responder holds a DH pair, the initiator only
// knows its public half.
func newPair(t *testing.T) (initiator, responder *RatchetState) {
	t.Helper()

	root := InitialRootKey([]byte("agreed shared secret"))
	respPriv, respPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	initiator = NewState(root, [32]byte{}, [32]byte{}, respPub)
	responder = NewState(root, respPriv, respPub, [32]byte{})
	return initiator, responder
}

func TestPingPong(t *testing.T) {
	alice, bob := newPair(t)

	for i := 0; i < 5; i++ {
		out := []byte(fmt.Sprintf("from alice %d", i))
		hdr, ct, err := alice.Send(out)
		require.NoError(t, err)
		got, err := bob.Receive(*hdr, ct)
		require.NoError(t, err)
		require.Equal(t, out, got)

		back := []byte(fmt.Sprintf("from bob %d", i))
		hdr, ct, err = bob.Send(back)
		require.NoError(t, err)
		got, err = alice.Receive(*hdr, ct)
		require.NoError(t, err)
		require.Equal(t, back, got)
	}
}

func TestSendNeverReusesCounter(t *testing.T) {
	alice, _ := newPair(t)

	h1, c1, err := alice.Send([]byte("one"))
	require.NoError(t, err)
	h2, c2, err := alice.Send([]byte("one"))
	require.NoError(t, err)

	require.NotEqual(t, h1.MsgNum, h2.MsgNum)
	require.NotEqual(t, c1, c2)
}

func TestOutOfOrderWithinWindow(t *testing.T) {
	alice, bob := newPair(t)

	type msg struct {
		hdr model.Header
		ct  []byte
	}
	var sent []msg
	for i := 0; i < 3; i++ {
		hdr, ct, err := alice.Send([]byte(fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
		sent = append(sent, msg{*hdr, ct})
	}

	// Arrival order 0, 2, 1. Message 1's key is cached while 2 jumps ahead.
	got, err := bob.Receive(sent[0].hdr, sent[0].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("msg 0"), got)

	got, err = bob.Receive(sent[2].hdr, sent[2].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("msg 2"), got)

	got, err = bob.Receive(sent[1].hdr, sent[1].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("msg 1"), got)

	// The cached key was dropped on use; a replay cannot decrypt again.
	_, err = bob.Receive(sent[1].hdr, sent[1].ct)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestDecryptOnce(t *testing.T) {
	alice, bob := newPair(t)

	hdr, ct, err := alice.Send([]byte("only once"))
	require.NoError(t, err)

	_, err = bob.Receive(*hdr, ct)
	require.NoError(t, err)

	_, err = bob.Receive(*hdr, ct)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestSkipLimit(t *testing.T) {
	alice, bob := newPair(t)

	// Land one message so bob has a receiving chain, then jump the counter
	// past the cacheable window.
	hdr, ct, err := alice.Send([]byte("first"))
	require.NoError(t, err)
	_, err = bob.Receive(*hdr, ct)
	require.NoError(t, err)

	var last model.Header
	var lastCT []byte
	for i := 0; i < MaxSkip+2; i++ {
		h, c, err := alice.Send([]byte("filler"))
		require.NoError(t, err)
		last, lastCT = *h, c
	}

	_, err = bob.Receive(last, lastCT)
	require.ErrorIs(t, err, ErrSkipLimit)
}

func TestTamperedCiphertextRejected(t *testing.T) {
	alice, bob := newPair(t)

	hdr, ct, err := alice.Send([]byte("integrity"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = bob.Receive(*hdr, ct)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrOutOfOrder))
}

func TestTamperedHeaderRejected(t *testing.T) {
	alice, bob := newPair(t)

	hdr, ct, err := alice.Send([]byte("aad binding"))
	require.NoError(t, err)

	hdr.Prev++
	_, err = bob.Receive(*hdr, ct)
	require.Error(t, err)
}

func TestStateSurvivesJSONRoundTrip(t *testing.T) {
	alice, bob := newPair(t)

	hdr, ct, err := alice.Send([]byte("before restart"))
	require.NoError(t, err)
	_, err = bob.Receive(*hdr, ct)
	require.NoError(t, err)

	blob, err := json.Marshal(bob)
	require.NoError(t, err)
	var restored RatchetState
	require.NoError(t, json.Unmarshal(blob, &restored))

	hdr, ct, err = alice.Send([]byte("after restart"))
	require.NoError(t, err)
	got, err := restored.Receive(*hdr, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("after restart"), got)
}
