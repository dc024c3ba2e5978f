package x3dh

import (
	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/cryptographic/kdf"
	"e2e_messenger/internal/cryptographic/signature"
	"e2e_messenger/internal/model"
)

type (
	X3DHBase struct {
	}

	X3DHSender struct {
		*X3DHBase
	}

	X3DHReceiver struct {
		*X3DHBase
	}
)

// VerifySignedPreKey checks the peer's signed-prekey signature against their
// published signing key.
func VerifySignedPreKey(signingKey, spkPub, sig []byte) bool {
	return signature.Ed25519Verify(signingKey, spkPub, sig)
}

// GenerateShareKey condenses the DH outputs into a 32-byte shared key.
// dh4 is absent when no one-time prekey was available.
func (s *X3DHBase) GenerateShareKey(dh1, dh2, dh3, dh4 []byte) ([]byte, error) {
	var concat []byte = make([]byte, 0, 128)
	concat = append(concat, dh1...)
	concat = append(concat, dh2...)
	concat = append(concat, dh3...)
	if dh4 != nil {
		concat = append(concat, dh4...)
	}

	var sk = make([]byte, 32)
	_, err := kdf.HKDF(nil, concat, []byte("SharedKey"), sk)
	if err != nil {
		return nil, err
	}
	return sk, nil
}

// GenerateShareKey runs the initiator side:
// DH(IKa, SPKb), DH(EKa, IKb), DH(EKa, SPKb) and optionally DH(EKa, OTKb).
func (s *X3DHSender) GenerateShareKey(skb *model.SenderKeyBundle) ([]byte, error) {
	dh1, err := dh.X25519SharedSecret([32]byte(skb.IKPrivA), [32]byte(skb.SPKPubB))
	if err != nil {
		return nil, err
	}

	dh2, err := dh.X25519SharedSecret([32]byte(skb.EKPrivA), [32]byte(skb.IKPubB))
	if err != nil {
		return nil, err
	}

	dh3, err := dh.X25519SharedSecret([32]byte(skb.EKPrivA), [32]byte(skb.SPKPubB))
	if err != nil {
		return nil, err
	}

	var dh4 []byte = nil
	if skb.OTKPubB != nil {
		dh4, err = dh.X25519SharedSecret([32]byte(skb.EKPrivA), [32]byte(skb.OTKPubB))
		if err != nil {
			return nil, err
		}
	}

	return s.X3DHBase.GenerateShareKey(dh1, dh2, dh3, dh4)
}

// GenerateShareKey runs the responder side, mirroring the initiator's legs.
func (s *X3DHReceiver) GenerateShareKey(rkb *model.ReceiverKeyBundle) ([]byte, error) {
	dh1, err := dh.X25519SharedSecret([32]byte(rkb.SPKPrivB), [32]byte(rkb.IKPubA))
	if err != nil {
		return nil, err
	}

	dh2, err := dh.X25519SharedSecret([32]byte(rkb.IKPrivB), [32]byte(rkb.EKPubA))
	if err != nil {
		return nil, err
	}

	dh3, err := dh.X25519SharedSecret([32]byte(rkb.SPKPrivB), [32]byte(rkb.EKPubA))
	if err != nil {
		return nil, err
	}

	var dh4 []byte = nil
	if rkb.OTKPrivB != nil {
		dh4, err = dh.X25519SharedSecret([32]byte(rkb.OTKPrivB), [32]byte(rkb.EKPubA))
		if err != nil {
			return nil, err
		}
	}

	return s.X3DHBase.GenerateShareKey(dh1, dh2, dh3, dh4)
}
