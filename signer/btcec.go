package signer

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/errorf"
)

// Secp256k1 is a signer.I backed by github.com/btcsuite/btcd/btcec/v2. Either
// generate a fresh key, or call InitSec/InitPub to load one.
type Secp256k1 struct {
	sec *btcec.PrivateKey
	pub *btcec.PublicKey
	pkb []byte
}

var (
	_ I           = (*Secp256k1)(nil)
	_ ECDHCapable = (*Secp256k1)(nil)
)

// Generate creates a fresh random key pair.
func (s *Secp256k1) Generate() (err error) {
	if s.sec, err = btcec.NewPrivateKey(); chk.E(err) {
		return
	}
	s.pub = s.sec.PubKey()
	s.pkb = schnorrPub(s.pub)
	return
}

// InitSec loads a 32-byte secret key.
func (s *Secp256k1) InitSec(sec []byte) (err error) {
	if len(sec) != 32 {
		err = errorf.E("signer: sec key must be 32 bytes, got %d", len(sec))
		return
	}
	s.sec, s.pub = btcec.PrivKeyFromBytes(sec)
	s.pkb = schnorrPub(s.pub)
	return
}

// InitPub loads a 32-byte x-only public key for verification only.
func (s *Secp256k1) InitPub(pub []byte) (err error) {
	var p *btcec.PublicKey
	if p, err = schnorr.ParsePubKey(pub); chk.E(err) {
		return
	}
	s.pub = p
	s.pkb = pub
	return
}

func schnorrPub(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

// Pub returns the 32-byte x-only public key.
func (s *Secp256k1) Pub() []byte { return s.pkb }

// Sec returns the raw 32-byte secret key, nil if this signer holds none.
func (s *Secp256k1) Sec() []byte {
	if s.sec == nil {
		return nil
	}
	return s.sec.Serialize()
}

// Sign produces a BIP-340 signature over msg using the loaded secret key.
func (s *Secp256k1) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer: secret key not initialized")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.Sign(s.sec, msg); chk.E(err) {
		return
	}
	sig = si.Serialize()
	return
}

// Verify checks a signature against the loaded public key.
func (s *Secp256k1) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		err = errorf.E("signer: public key not initialized")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.ParseSignature(sig); chk.D(err) {
		err = errorf.E("signer: failed to parse signature: %w", err)
		return
	}
	valid = si.Verify(msg, s.pub)
	return
}

// ECDH derives a shared secret with a counterparty's x-only public key,
// reconstructing it as an even-y point as BIP-340 requires.
func (s *Secp256k1) ECDH(pubkey []byte) (secret []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer: secret key not initialized")
		return
	}
	var p *btcec.PublicKey
	if p, err = schnorr.ParsePubKey(pubkey); chk.E(err) {
		return
	}
	secret = btcec.GenerateSharedSecret(s.sec, p)
	return
}
