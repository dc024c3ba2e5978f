package model

type (
	// SenderKeyBundle is the initiator-side input to the X3DH derivation:
	// our identity and ephemeral privates against the peer's published
	// publics. OTKPubB may be nil when the peer's inventory was exhausted.
	SenderKeyBundle struct {
		IKPrivA []byte
		EKPrivA []byte

		IKPubB  []byte
		SPKPubB []byte
		OTKPubB []byte
	}

	// ReceiverKeyBundle is the responder-side mirror, built from the prekey
	// message of an inbound session-establishing envelope.
	ReceiverKeyBundle struct {
		IKPubA []byte
		EKPubA []byte

		IKPrivB  []byte
		SPKPrivB []byte
		OTKPrivB []byte
	}
)
