package doubleratchet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/cryptographic/encryption"
	"e2e_messenger/internal/model"

	"golang.org/x/crypto/curve25519"
)

// MaxSkip bounds the skipped-message-key cache per session. Arrivals further
// out of order than this fail with ErrSkipLimit.
const MaxSkip = 1000

var (
	// ErrOutOfOrder: the message counter sits behind the receiving chain and
	// no skipped key is cached for it. The chain has consumed that key
	// material; the message cannot be decrypted again on this session.
	ErrOutOfOrder = errors.New("ratchet already advanced past this message")

	// ErrSkipLimit: decrypting would require caching more skipped keys than
	// MaxSkip allows.
	ErrSkipLimit = errors.New("skipped-key limit exceeded")
)

func headerToAAD(h model.Header) []byte {
	b := make([]byte, 32+4+4)
	copy(b[:32], h.Pub[:])
	binary.BigEndian.PutUint32(b[32:36], h.MsgNum)
	binary.BigEndian.PutUint32(b[36:40], h.Prev)
	return b
}

func skippedKey(pub [32]byte, msgNum uint32) string {
	return hex.EncodeToString(pub[:]) + ":" + fmt.Sprint(msgNum)
}

// RatchetState is the mutable per-peer session state. All fields are exported
// so the state survives a JSON round-trip through the keystore. It is not
// safe for concurrent use; callers serialize access per peer.
type RatchetState struct {
	RootKey []byte

	// Our current DH (private/public) used for sending ratchets
	DHsPriv [32]byte
	DHsPub  [32]byte

	// Remote party's current DH public key
	DHr [32]byte

	// Chain keys and counters
	SendingChainKey   []byte // CKs
	ReceivingChainKey []byte // CKr
	Ns                uint32 // messages sent in current sending chain
	Nr                uint32 // messages received in current receiving chain
	PN                uint32 // previous sending chain length

	// Skipped message keys: skippedKey(pub, n) => messageKey
	Skipped map[string][]byte
}

func NewState(rootKey []byte, ourPriv, ourPub, theirPub [32]byte) *RatchetState {
	return &RatchetState{
		RootKey: rootKey,
		DHsPriv: ourPriv,
		DHsPub:  ourPub,
		DHr:     theirPub,
		Skipped: make(map[string][]byte),
	}
}

func (s *RatchetState) SetDHr(dhr [32]byte) {
	s.DHr = dhr
}

// InitiateSendingRatchet generates a new DH key for this party and derives a
// sending chain key (CKs). Called before the first message of a new sending
// chain.
func (s *RatchetState) InitiateSendingRatchet() error {
	newPriv, newPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return err
	}

	if bytes.Equal(s.DHr[:], make([]byte, 32)) {
		return errors.New("remote public key (DHr) not set; cannot ratchet")
	}
	shared, err := curve25519.X25519(newPriv[:], s.DHr[:])
	if err != nil {
		return fmt.Errorf("X25519 during InitiateSendingRatchet: %w", err)
	}

	s.RootKey, s.SendingChainKey, err = KDFRootKey(s.RootKey, shared)
	if err != nil {
		return fmt.Errorf("InitiateSendingRatchet: %w", err)
	}

	s.DHsPriv = newPriv
	s.DHsPub = newPub
	s.Ns = 0
	return nil
}

// saveSkippedMessages derives and caches message keys for indices [Nr, until)
// of the receiving chain identified by theirPub.
func (s *RatchetState) saveSkippedMessages(theirPub [32]byte, until uint32) error {
	if s.ReceivingChainKey == nil {
		return errors.New("no receiving chain key when saving skipped messages")
	}

	if until <= s.Nr {
		return nil
	}

	toGenerate := int(until - s.Nr)
	if toGenerate > MaxSkip {
		return fmt.Errorf("generating %d keys: %w", toGenerate, ErrSkipLimit)
	}
	if len(s.Skipped)+toGenerate > MaxSkip {
		return fmt.Errorf("have=%d need=%d: %w", len(s.Skipped), toGenerate, ErrSkipLimit)
	}

	for toGenerate > 0 {
		var msgKey []byte
		var err error
		s.ReceivingChainKey, msgKey, err = KDFChainKey(s.ReceivingChainKey)
		if err != nil {
			return err
		}

		k := skippedKey(theirPub, s.Nr)
		cpy := make([]byte, len(msgKey))
		copy(cpy, msgKey)
		s.Skipped[k] = cpy

		s.Nr++
		toGenerate--
	}
	return nil
}

// Send produces a header and ciphertext for the plaintext message. Every call
// advances the sending chain; the same outbound state is never reused across
// two ciphertexts. Starts a new sending ratchet if none is active.
func (s *RatchetState) Send(plaintext []byte) (*model.Header, []byte, error) {
	if s.SendingChainKey == nil {
		if err := s.InitiateSendingRatchet(); err != nil {
			return nil, nil, err
		}
	}

	msgNum := s.Ns
	var msgKey []byte
	var err error
	s.SendingChainKey, msgKey, err = KDFChainKey(s.SendingChainKey)
	if err != nil {
		return nil, nil, err
	}
	s.Ns++

	hdr := model.Header{
		Pub:    s.DHsPub,
		MsgNum: msgNum,
		Prev:   s.PN,
	}

	ct, err := encryption.AEADEncrypt(msgKey, plaintext, headerToAAD(hdr))
	if err != nil {
		return nil, nil, err
	}
	return &hdr, ct, nil
}

// Receive consumes a header and ciphertext, returns plaintext or error.
// Decryption of a given message succeeds at most once: advancing the chain
// consumes its key, after which the same header fails with ErrOutOfOrder.
func (s *RatchetState) Receive(h model.Header, ciphertext []byte) ([]byte, error) {
	// A previously skipped message: use the cached key once and drop it.
	key := skippedKey(h.Pub, h.MsgNum)
	if mk, ok := s.Skipped[key]; ok {
		delete(s.Skipped, key)
		return encryption.AEADDecrypt(mk, ciphertext, headerToAAD(h))
	}

	// If header's pub != current DHr, the sender started a new DH ratchet.
	if !bytes.Equal(h.Pub[:], s.DHr[:]) {
		// Cache keys for messages still outstanding on the old chain.
		if s.ReceivingChainKey != nil && h.Prev > s.Nr {
			if err := s.saveSkippedMessages(s.DHr, h.Prev); err != nil {
				return nil, err
			}
		}

		s.PN = s.Ns
		s.Ns = 0
		s.Nr = 0

		shared, err := curve25519.X25519(s.DHsPriv[:], h.Pub[:])
		if err != nil {
			return nil, fmt.Errorf("X25519 during receive ratchet: %w", err)
		}

		s.RootKey, s.ReceivingChainKey, err = KDFRootKey(s.RootKey, shared)
		if err != nil {
			return nil, err
		}
		s.DHr = h.Pub

		// The sending chain is stale against the new remote key; the next
		// Send starts a fresh one.
		s.SendingChainKey = nil
	}

	if s.ReceivingChainKey == nil {
		return nil, errors.New("no receiving chain key available")
	}

	// Counter behind the chain with no skipped key: that key material is
	// gone. Reject before deriving anything.
	if h.MsgNum < s.Nr {
		return nil, fmt.Errorf("message %d, chain at %d: %w", h.MsgNum, s.Nr, ErrOutOfOrder)
	}

	// Cache keys for any gap in front of this message, then derive its own
	// key from the advanced chain.
	if h.MsgNum > s.Nr {
		if err := s.saveSkippedMessages(s.DHr, h.MsgNum); err != nil {
			return nil, err
		}
	}

	var msgKey []byte
	var err error
	s.ReceivingChainKey, msgKey, err = KDFChainKey(s.ReceivingChainKey)
	if err != nil {
		return nil, err
	}
	s.Nr++

	return encryption.AEADDecrypt(msgKey, ciphertext, headerToAAD(h))
}
