package signature

import (
	"crypto/ed25519"
	"crypto/rand"
)

// NewEd25519Keypair generates a signing key pair. The private key carries the
// seed and the public half, per crypto/ed25519 convention.
func NewEd25519Keypair() (pub, priv []byte, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pubKey, privKey, nil
}

func Ed25519Sign(privKeyBytes, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privKeyBytes), message)
}

func Ed25519Verify(pubKeyBytes, message, sig []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, sig)
}
