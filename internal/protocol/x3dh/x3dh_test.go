package x3dh

import (
	"testing"

	"e2e_messenger/internal/cryptographic/dh"
	"e2e_messenger/internal/cryptographic/signature"
	"e2e_messenger/internal/model"

	"github.com/stretchr/testify/require"
)

type party struct {
	ikPriv, ikPub   [32]byte
	spkPriv, spkPub [32]byte
	otkPriv, otkPub [32]byte
}

func newParty(t *testing.T) party {
	t.Helper()
	var p party
	var err error
	p.ikPriv, p.ikPub, err = dh.NewX25519KeyPair()
	require.NoError(t, err)
	p.spkPriv, p.spkPub, err = dh.NewX25519KeyPair()
	require.NoError(t, err)
	p.otkPriv, p.otkPub, err = dh.NewX25519KeyPair()
	require.NoError(t, err)
	return p
}

func TestSharedKeyAgreementWithOneTimePreKey(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)
	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	sender := &X3DHSender{}
	skA, err := sender.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: alice.ikPriv[:],
		EKPrivA: ekPriv[:],
		IKPubB:  bob.ikPub[:],
		SPKPubB: bob.spkPub[:],
		OTKPubB: bob.otkPub[:],
	})
	require.NoError(t, err)

	receiver := &X3DHReceiver{}
	skB, err := receiver.GenerateShareKey(&model.ReceiverKeyBundle{
		IKPubA:   alice.ikPub[:],
		EKPubA:   ekPub[:],
		IKPrivB:  bob.ikPriv[:],
		SPKPrivB: bob.spkPriv[:],
		OTKPrivB: bob.otkPriv[:],
	})
	require.NoError(t, err)

	require.Len(t, skA, 32)
	require.Equal(t, skA, skB)
}

func TestSharedKeyAgreementWithoutOneTimePreKey(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)
	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	sender := &X3DHSender{}
	skA, err := sender.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: alice.ikPriv[:],
		EKPrivA: ekPriv[:],
		IKPubB:  bob.ikPub[:],
		SPKPubB: bob.spkPub[:],
	})
	require.NoError(t, err)

	receiver := &X3DHReceiver{}
	skB, err := receiver.GenerateShareKey(&model.ReceiverKeyBundle{
		IKPubA:   alice.ikPub[:],
		EKPubA:   ekPub[:],
		IKPrivB:  bob.ikPriv[:],
		SPKPrivB: bob.spkPriv[:],
	})
	require.NoError(t, err)

	require.Equal(t, skA, skB)
}

func TestOneTimePreKeyChangesSharedKey(t *testing.T) {
	alice := newParty(t)
	bob := newParty(t)
	ekPriv, _, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	sender := &X3DHSender{}
	with, err := sender.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: alice.ikPriv[:],
		EKPrivA: ekPriv[:],
		IKPubB:  bob.ikPub[:],
		SPKPubB: bob.spkPub[:],
		OTKPubB: bob.otkPub[:],
	})
	require.NoError(t, err)

	without, err := sender.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: alice.ikPriv[:],
		EKPrivA: ekPriv[:],
		IKPubB:  bob.ikPub[:],
		SPKPubB: bob.spkPub[:],
	})
	require.NoError(t, err)

	require.NotEqual(t, with, without)
}

func TestVerifySignedPreKey(t *testing.T) {
	signPub, signPriv, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	_, spkPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	sig := signature.Ed25519Sign(signPriv, spkPub[:])
	require.True(t, VerifySignedPreKey(signPub, spkPub[:], sig))

	sig[0] ^= 0x01
	require.False(t, VerifySignedPreKey(signPub, spkPub[:], sig))

	otherPub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	sig[0] ^= 0x01
	require.False(t, VerifySignedPreKey(otherPub, spkPub[:], sig))
}
