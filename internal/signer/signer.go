// Package signer holds the service's Ethereum key. It signs DDO validation
// results and the decrypt requests sent to providers.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// PrivKeySize is the number of bytes of a secp256k1 private key.
	PrivKeySize = 32

	messagePrefix = "\x19Ethereum Signed Message:\n"
)

// ErrNoKey is returned when no private key is configured.
var ErrNoKey = errors.New("no private key configured")

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Signer signs with a secp256k1 key the way Ethereum wallets do.
type Signer struct {
	priv    *btcec.PrivateKey
	address common.Address
}

// New parses a hex private key, with or without 0x prefix.
func New(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoKey
	}
	bz, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(bz) != PrivKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivKeySize, len(bz))
	}
	priv, pub := btcec.PrivKeyFromBytes(btcec.S256(), bz)
	return &Signer{priv: priv, address: PubKeyToAddress(pub)}, nil
}

// PubKeyToAddress derives the account address: the last 20 bytes of the
// keccak hash of the uncompressed public key without its 0x04 tag.
func PubKeyToAddress(pub *btcec.PublicKey) common.Address {
	return common.BytesToAddress(Keccak256(pub.SerializeUncompressed()[1:])[12:])
}

// Address returns the account address of the key.
func (s *Signer) Address() common.Address { return s.address }

// Signature is a recoverable secp256k1 signature. V is 27 or 28.
type Signature struct {
	V byte
	R [32]byte
	S [32]byte
}

// Bytes returns R || S || V.
func (sig Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, sig.R[:]...)
	out = append(out, sig.S[:]...)
	return append(out, sig.V)
}

// Hex returns the 0x-prefixed R || S || V encoding.
func (sig Signature) Hex() string { return "0x" + hex.EncodeToString(sig.Bytes()) }

// SignHash signs a 32 byte digest.
func (s *Signer) SignHash(hash []byte) (Signature, error) {
	if len(hash) != 32 {
		return Signature{}, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	// compact form: [27 + recovery id] || R || S
	compact, err := btcec.SignCompact(btcec.S256(), s.priv, hash, false)
	if err != nil {
		return Signature{}, err
	}
	var sig Signature
	sig.V = compact[0]
	copy(sig.R[:], compact[1:33])
	copy(sig.S[:], compact[33:65])
	return sig, nil
}

// PrefixedHash returns the EIP-191 personal message digest of msg.
func PrefixedHash(msg []byte) []byte {
	return Keccak256([]byte(messagePrefix+strconv.Itoa(len(msg))), msg)
}

// SignMessage signs msg as an EIP-191 personal message.
func (s *Signer) SignMessage(msg []byte) (Signature, error) {
	return s.SignHash(PrefixedHash(msg))
}

// SignText hashes text and signs the digest as a personal message. This is
// the form providers expect on decrypt requests.
func (s *Signer) SignText(text string) (Signature, error) {
	return s.SignMessage(Keccak256([]byte(text)))
}

// DDOSignature is the signed answer of a successful DDO validation.
type DDOSignature struct {
	Hash      string `json:"hash"`
	PublicKey string `json:"publicKey"`
	R         string `json:"r"`
	S         string `json:"s"`
	V         int    `json:"v"`
}

// SignDDO signs the keccak hash of a raw DDO.
func (s *Signer) SignDDO(raw []byte) (*DDOSignature, error) {
	hash := Keccak256(raw)
	sig, err := s.SignMessage(hash)
	if err != nil {
		return nil, err
	}
	return &DDOSignature{
		Hash:      "0x" + hex.EncodeToString(hash),
		PublicKey: s.address.Hex(),
		R:         "0x" + hex.EncodeToString(sig.R[:]),
		S:         "0x" + hex.EncodeToString(sig.S[:]),
		V:         int(sig.V),
	}, nil
}

// RecoverAddress returns the address that produced sig over hash.
func RecoverAddress(hash []byte, sig Signature) (common.Address, error) {
	compact := make([]byte, 0, 65)
	compact = append(compact, sig.V)
	compact = append(compact, sig.R[:]...)
	compact = append(compact, sig.S[:]...)
	pub, _, err := btcec.RecoverCompact(btcec.S256(), compact, hash)
	if err != nil {
		return common.Address{}, err
	}
	return PubKeyToAddress(pub), nil
}
