package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/aquarius/internal/chain/chaintest"
	"github.com/tendermint/aquarius/internal/signer"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestProviderDecryptor(t *testing.T) {
	s, err := signer.New(testKey)
	require.NoError(t, err)
	tx := chaintest.TxHash(7)

	var got decryptPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, decryptPath, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&got)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"did:op:1"}`))
	}))
	defer srv.Close()

	d := NewProviderDecryptor(s)
	d.now = func() time.Time { return time.UnixMilli(1650000000000) }
	out, err := d.Decrypt(context.Background(), DecryptRequest{
		URL:     srv.URL + "/",
		TxHash:  tx,
		ChainID: testChainID,
		NFT:     nftAddr,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"did:op:1"}`, string(out))

	assert.Equal(t, tx.Hex(), got.TransactionID)
	assert.EqualValues(t, testChainID, got.ChainID)
	assert.Equal(t, s.Address().Hex(), got.DecrypterAddress)
	assert.Equal(t, nftAddr.Hex(), got.DataNftAddress)
	assert.Equal(t, "1650000000000", got.Nonce)

	raw, err := hexutil.Decode(got.Signature)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	var sig signer.Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]

	msg := tx.Hex() + s.Address().Hex() + "8996" + "1650000000000"
	addr, err := signer.RecoverAddress(signer.PrefixedHash(signer.Keccak256([]byte(msg))), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestProviderDecryptorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such transaction", http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := signer.New(testKey)
	require.NoError(t, err)
	_, err = NewProviderDecryptor(s).Decrypt(context.Background(), DecryptRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such transaction")

	_, err = NewProviderDecryptor(nil).Decrypt(context.Background(), DecryptRequest{URL: srv.URL})
	require.ErrorIs(t, err, signer.ErrNoKey)
}
