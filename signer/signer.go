// Package signer defines the signing interface the SDK's event codec and
// NIP-42 auth engine sign and verify against, plus an in-process
// secp256k1/BIP-340 implementation. The NIP-46 remote-signer client, for
// callers who keep their key in a bunker instead of in memory, is in
// package nip46.
package signer

// I is implemented by anything that can produce BIP-340 Schnorr signatures
// for an x-only pubkey: an in-process key, a hardware wallet, a NIP-46
// bunker connection.
type I interface {
	// Pub returns the 32-byte x-only public key.
	Pub() []byte
	// Sign produces a 64-byte Schnorr signature over msg (expected to
	// already be a 32-byte hash).
	Sign(msg []byte) (sig []byte, err error)
	// Verify checks a signature against this signer's public key.
	Verify(msg, sig []byte) (valid bool, err error)
}

// ECDHCapable is implemented by signers that can additionally compute a
// shared secret, used by NIP-44 encrypted DMs and NIP-46 transport framing.
type ECDHCapable interface {
	I
	ECDH(pubkey []byte) (secret []byte, err error)
}
