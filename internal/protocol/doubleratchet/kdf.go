package doubleratchet

import (
	"crypto/sha256"

	"e2e_messenger/internal/cryptographic/kdf"
)

// InitialRootKey derives the initial root key from the X3DH shared secret.
func InitialRootKey(sharedSecret []byte) []byte {
	sum := sha256.Sum256(sharedSecret)
	return sum[:]
}

// KDFRootKey derives a new RootKey and ChainKey from the old root key + DH output.
// Uses HKDF with SHA-256, info = "RootKDF".
func KDFRootKey(rootKey, dhOut []byte) (newRootKey, newChainKey []byte, err error) {
	buffer := make([]byte, 64)
	_, err = kdf.HKDF(dhOut, rootKey, []byte("RootKDF"), buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:32], buffer[32:], nil
}

// KDFChainKey derives the next ChainKey and a MessageKey.
// Uses HKDF with SHA-256, info = "ChainKDF".
func KDFChainKey(chainKey []byte) (nextChainKey, msgKey []byte, err error) {
	buffer := make([]byte, 64)
	_, err = kdf.HKDF([]byte("ChainInput"), chainKey, []byte("ChainKDF"), buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:32], buffer[32:], nil
}
