package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/chain/chaintest"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/events"
	"github.com/tendermint/aquarius/internal/rbac"
	"github.com/tendermint/aquarius/internal/signer"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/version"
)

const (
	testChainID = 8996
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

var (
	nftAddr   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	dtAddr    = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	publisher = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

type testEnv struct {
	*Environment
	node *chaintest.Node
	srv  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	node := chaintest.NewNode(testChainID)
	node.SetNFT(nftAddr, "Data NFT", "DN-1", publisher, "https://oceanprotocol.com/nft/")
	node.SetDatatoken(dtAddr, "Datatoken 1", "DT1", nftAddr)

	s := store.NewKVStore(dbm.NewMemDB(), "aquarius")
	ix, err := events.NewIndexer(log.TestingLogger(), node, s, events.Config{ChainID: testChainID})
	require.NoError(t, err)
	sig, err := signer.New(testKey)
	require.NoError(t, err)

	env := &Environment{
		Logger:  log.TestingLogger(),
		Store:   s,
		Node:    node,
		Indexer: ix,
		Signer:  sig,
	}
	srv := httptest.NewServer(env.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{Environment: env, node: node, srv: srv}
}

func testDDO() ddo.DDO {
	return ddo.MakeTestDDO(nftAddr.Hex(), testChainID, dtAddr.Hex())
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func (e *testEnv) get(t *testing.T, path string) (int, []byte) {
	return e.do(t, http.MethodGet, path, "", nil)
}

func (e *testEnv) postJSON(t *testing.T, path string, body string) (int, []byte) {
	return e.do(t, http.MethodPost, path, "application/json", []byte(body))
}

func errorOf(t *testing.T, body []byte) string {
	t.Helper()
	var res struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &res), string(body))
	return res.Error
}

func TestRootAndHealth(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.get(t, "/")
	require.Equal(t, http.StatusOK, code)
	var root rootInfo
	require.NoError(t, json.Unmarshal(body, &root))
	assert.Equal(t, version.Software, root.Software)
	assert.Equal(t, version.Version, root.Version)
	assert.Equal(t, "kv", root.Plugin)

	code, body = e.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"store":"ok","chain":"ok"}`, string(body))

	e.node.Err = errors.New("dial tcp 10.0.0.7:8545: connection refused")
	code, body = e.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"store":"ok","chain":"error"}`, string(body))
	assert.NotContains(t, string(body), "10.0.0.7")

	code, _ = e.get(t, "/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

// downStore fails every ping.
type downStore struct{ store.Store }

func (downStore) Ping(context.Context) error {
	return errors.New("dial tcp 10.0.0.9:9200: connection refused")
}

func TestHealthStoreDown(t *testing.T) {
	e := newTestEnv(t)
	e.Store = downStore{e.Store}

	code, body := e.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"store":"error","chain":"ok"}`, string(body))
	assert.NotContains(t, string(body), "10.0.0.9")
}

func TestGetDDO(t *testing.T) {
	e := newTestEnv(t)
	d := testDDO()
	d["_id"] = d.ID()
	require.NoError(t, e.Store.Put(context.Background(), d))

	code, body := e.get(t, Prefix+"/assets/ddo/"+d.ID())
	require.Equal(t, http.StatusOK, code)
	got, err := ddo.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, d.ID(), got.ID())
	assert.NotContains(t, got, "_id")

	code, body = e.get(t, Prefix+"/assets/metadata/"+d.ID())
	require.Equal(t, http.StatusOK, code)
	var md map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &md))
	assert.Equal(t, d.Name(), md["name"])

	code, body = e.get(t, Prefix+"/assets/ddo/did:op:missing")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Asset DID did:op:missing not found in Elasticsearch.", errorOf(t, body))

	code, body = e.get(t, Prefix+"/assets/metadata/did:op:missing")
	require.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, errorOf(t, body), "Error encountered while retrieving metadata")
}

func TestAssetNames(t *testing.T) {
	e := newTestEnv(t)
	d := testDDO()
	require.NoError(t, e.Store.Put(context.Background(), d))

	testCases := []struct {
		name string
		body string
		code int
		want string
	}{
		{"not an object", `[1,2]`, http.StatusBadRequest, errInvalidPayload},
		{"missing list", `{}`, http.StatusBadRequest, "`didList` is required in the request payload."},
		{"empty list", `{"didList":[]}`, http.StatusBadRequest, "The requested didList can not be empty."},
		{"not a list", `{"didList":"did:op:1"}`, http.StatusBadRequest, "The didList must be a list."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := e.postJSON(t, Prefix+"/assets/names", tc.body)
			require.Equal(t, tc.code, code)
			assert.Equal(t, tc.want, errorOf(t, body))
		})
	}

	code, body := e.postJSON(t, Prefix+"/assets/names", `{"didList":["`+d.ID()+`","did:op:missing"]}`)
	require.Equal(t, http.StatusOK, code)
	var names map[string]string
	require.NoError(t, json.Unmarshal(body, &names))
	assert.Equal(t, map[string]string{d.ID(): d.Name(), "did:op:missing": ""}, names)
}

type failingSearch struct {
	store.Store
	err error
}

func (s failingSearch) Search(context.Context, []byte) (json.RawMessage, error) {
	return nil, s.err
}

func TestQuery(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.Store.Put(context.Background(), testDDO()))

	code, body := e.postJSON(t, Prefix+"/assets/query", `{"query":{"match_all":{}}}`)
	require.Equal(t, http.StatusOK, code)
	res, err := store.DecodeSearch(body)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Hits.Total.Value)

	code, body = e.postJSON(t, Prefix+"/assets/query", `not json`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errInvalidPayload, errorOf(t, body))

	e.Store = failingSearch{Store: e.Store, err: &store.Error{Status: 400, Reason: "parsing_exception", Info: json.RawMessage(`{"line":1}`)}}
	code, body = e.postJSON(t, Prefix+"/assets/query", `{"query":{"bogus":{}}}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"error":"parsing_exception","info":{"line":1}}`, string(body))

	e.Store = failingSearch{Store: e.Store, err: errors.New("connection refused")}
	code, body = e.postJSON(t, Prefix+"/assets/query", `{}`)
	require.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, errorOf(t, body), "connection refused")
}

func TestValidateDDO(t *testing.T) {
	e := newTestEnv(t)
	path := Prefix + "/assets/ddo/validate"
	raw := []byte(`{"@context":["https://w3id.org/did/v1"],"id":"` + testDDO().ID() + `","version":"4.1.0","chainId":8996,"nftAddress":"` + nftAddr.Hex() + `","metadata":{"created":"2021-12-20T14:35:20Z","updated":"2021-12-20T14:35:20Z","type":"dataset","name":"n","description":"d","author":"a","license":"MIT"},"services":[{"id":"1","type":"access","files":"0x01","datatokenAddress":"` + dtAddr.Hex() + `","serviceEndpoint":"http://provider","timeout":0}]}`)

	code, body := e.do(t, http.MethodPost, path, "application/json", raw)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorOf(t, body), "should be application/octet-stream")

	code, body = e.do(t, http.MethodPost, path, octetStream, []byte("{"))
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errInvalidPayload, errorOf(t, body))

	code, body = e.do(t, http.MethodPost, path, octetStream, []byte(`{"id":"did:op:1"}`))
	require.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `[{"message":"no version provided for DDO."}]`, string(body))

	code, body = e.do(t, http.MethodPost, path, octetStream, []byte(`{"version":"4.1.0","id":"did:op:1"}`))
	require.Equal(t, http.StatusBadRequest, code)
	var verrs validationErrors
	require.NoError(t, json.Unmarshal(body, &verrs))
	assert.Contains(t, verrs.Errors, "metadata")

	code, body = e.do(t, http.MethodPost, path, octetStream, raw)
	require.Equal(t, http.StatusOK, code, string(body))
	var sig signer.DDOSignature
	require.NoError(t, json.Unmarshal(body, &sig))
	hash := signer.Keccak256(raw)
	assert.Equal(t, "0x"+hex.EncodeToString(hash), sig.Hash)
	assert.Equal(t, e.Signer.Address().Hex(), sig.PublicKey)

	var s signer.Signature
	copy(s.R[:], common.FromHex(sig.R))
	copy(s.S[:], common.FromHex(sig.S))
	s.V = byte(sig.V)
	addr, err := signer.RecoverAddress(signer.PrefixedHash(hash), s)
	require.NoError(t, err)
	assert.Equal(t, e.Signer.Address(), addr)

	e.Signer = nil
	code, _ = e.do(t, http.MethodPost, path, octetStream, raw)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestValidateDDORBAC(t *testing.T) {
	e := newTestEnv(t)
	rbacSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("false"))
	}))
	defer rbacSrv.Close()
	e.RBAC = rbac.NewClient(rbacSrv.URL)

	code, body := e.do(t, http.MethodPost, Prefix+"/assets/ddo/validate", octetStream, []byte(`{"version":"4.1.0"}`))
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "DDO marked invalid by the RBAC server.", errorOf(t, body))
}

func TestTriggerCaching(t *testing.T) {
	e := newTestEnv(t)
	bz, err := json.Marshal(testDDO())
	require.NoError(t, err)
	tx := chaintest.TxHash(1)
	l := chaintest.MetadataLog(chain.EventMetadataCreated, nftAddr, 5, tx, publisher, 0, "", 0, bz, sha256.Sum256(bz))
	e.node.AddLog(publisher, l)

	path := Prefix + "/assets/triggerCaching"
	code, body := e.postJSON(t, path, `{"transactionId":"`+tx.Hex()+`"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	d, err := ddo.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, testDDO().ID(), d.ID())
	assert.NotNil(t, d.Object("nft"))

	cached, err := e.Store.Get(context.Background(), d.ID())
	require.NoError(t, err)
	assert.Equal(t, d.ID(), cached.ID())

	code, body = e.do(t, http.MethodPost, path+"?transactionId="+tx.Hex()+"&logIndex=3", "", nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Log index 3 not found", errorOf(t, body))

	code, body = e.postJSON(t, path, `{"transactionId":"0x1234"}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.True(t, strings.HasPrefix(errorOf(t, body), "Invalid transactionId"))

	// a transaction without metadata events
	other := chaintest.TxHash(2)
	e.node.AddLog(publisher, chaintest.NewLog(chain.ERC721ABI, chain.EventTokenURIUpdate, nftAddr, 6, other,
		publisher, "https://new.uri/", bigOne(), bigOne(), bigOne()))
	code, body = e.postJSON(t, path, `{"transactionId":"`+other.Hex()+`","logIndex":0}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No metadata created/updated event found in tx.", errorOf(t, body))
}

func bigOne() *big.Int { return big.NewInt(1) }

func TestChains(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	code, body := e.get(t, Prefix+"/chains/list")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No chains found.", errorOf(t, body))

	require.NoError(t, e.Store.AddChain(ctx, testChainID))
	require.NoError(t, e.Store.SetLastBlock(ctx, testChainID, 42))

	code, body = e.get(t, Prefix+"/chains/list")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"8996":true}`, string(body))

	code, body = e.get(t, Prefix+"/chains/status/8996")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"last_block":42}`, string(body))

	code, body = e.get(t, Prefix+"/chains/status/1")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Chain 1 is not indexed.", errorOf(t, body))
}

func TestMetricsRoute(t *testing.T) {
	env := &Environment{Store: store.NewKVStore(dbm.NewMemDB(), "aquarius")}
	srv := httptest.NewServer(env.Handler())
	defer srv.Close()
	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	env = &Environment{Store: store.NewKVStore(dbm.NewMemDB(), "aquarius"), Prometheus: true}
	srv2 := httptest.NewServer(env.Handler())
	defer srv2.Close()
	res, err = http.Get(srv2.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
