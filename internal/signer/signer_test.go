package signer

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNew(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	s2, err := New(testKey[2:])
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())

	_, err = New("")
	require.ErrorIs(t, err, ErrNoKey)
	_, err = New("0xzz")
	require.Error(t, err)
	_, err = New("0x1234")
	require.Error(t, err)
}

func TestKeccak256(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256()))
	assert.Equal(t, Keccak256([]byte("hello world")), Keccak256([]byte("hello "), []byte("world")))
}

func TestPrefixedHash(t *testing.T) {
	// personal_sign digest of "hello"
	assert.Equal(t,
		"50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750",
		hex.EncodeToString(PrefixedHash([]byte("hello"))))
}

func TestSignRecover(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOf(rapid.Byte()).Draw(t, "msg").([]byte)
		sig, err := s.SignMessage(msg)
		require.NoError(t, err)
		require.Contains(t, []byte{27, 28}, sig.V)

		addr, err := RecoverAddress(PrefixedHash(msg), sig)
		require.NoError(t, err)
		require.Equal(t, s.Address(), addr)
	})

	_, err = s.SignHash([]byte("short"))
	require.Error(t, err)
}

func TestSignDDO(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)

	raw := []byte(`{"id":"did:op:1"}`)
	res, err := s.SignDDO(raw)
	require.NoError(t, err)
	assert.Equal(t, "0x"+hex.EncodeToString(Keccak256(raw)), res.Hash)
	assert.Equal(t, s.Address().Hex(), res.PublicKey)
	assert.Len(t, res.R, 66)
	assert.Len(t, res.S, 66)
	assert.Contains(t, []int{27, 28}, res.V)

	// deterministic signatures
	again, err := s.SignDDO(raw)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestSignatureHex(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	sig, err := s.SignText("0xabc")
	require.NoError(t, err)
	h := sig.Hex()
	assert.Len(t, h, 2+65*2)
	assert.Equal(t, hex.EncodeToString([]byte{sig.V}), h[len(h)-2:])
}
