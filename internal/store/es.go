package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/tendermint/aquarius/internal/ddo"
)

//go:embed mapping.json
var assetMapping []byte

const (
	refreshWaitFor  = "wait_for"
	scrollKeepAlive = time.Minute
	scrollPageSize  = 500
)

// ESOptions configures the Elasticsearch backend.
type ESOptions struct {
	Addresses []string
	Username  string
	Password  string
	Index     string

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
	// SkipVerify disables server certificate verification.
	SkipVerify bool
}

// ESStore keeps assets in an Elasticsearch index and chain bookkeeping in
// the companion "<index>_plus" index.
type ESStore struct {
	es        *elasticsearch.Client
	index     string
	plusIndex string
}

var _ Store = (*ESStore)(nil)

// NewESStore creates the client. No request is made until EnsureIndices or
// another method is called.
func NewESStore(opts ESOptions) (*ESStore, error) {
	if opts.Index == "" {
		return nil, errors.New("index can't be empty")
	}
	cfg := elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
	}

	if opts.CACertFile != "" || opts.ClientCertFile != "" || opts.SkipVerify {
		tlsCfg := &tls.Config{InsecureSkipVerify: opts.SkipVerify} // nolint:gosec
		if opts.CACertFile != "" {
			pem, err := os.ReadFile(opts.CACertFile)
			if err != nil {
				return nil, fmt.Errorf("reading ca certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", opts.CACertFile)
			}
			tlsCfg.RootCAs = pool
		}
		if opts.ClientCertFile != "" {
			cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
			if err != nil {
				return nil, fmt.Errorf("loading client certificate: %w", err)
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlsCfg
		cfg.Transport = tr
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &ESStore{es: es, index: opts.Index, plusIndex: opts.Index + "_plus"}, nil
}

func (s *ESStore) Type() BackendType { return Elasticsearch }

// Close is a no-op; the client holds no resources beyond idle connections.
func (s *ESStore) Close() error { return nil }

func (s *ESStore) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

// EnsureIndices creates the asset index with its mapping and the bookkeeping
// index. Existing indices are left untouched.
func (s *ESStore) EnsureIndices(ctx context.Context) error {
	if err := s.createIndex(ctx, s.index, assetMapping); err != nil {
		return err
	}
	return s.createIndex(ctx, s.plusIndex, nil)
}

func (s *ESStore) createIndex(ctx context.Context, name string, body []byte) error {
	opts := []func(*esapi.IndicesCreateRequest){s.es.Indices.Create.WithContext(ctx)}
	if body != nil {
		opts = append(opts, s.es.Indices.Create.WithBody(bytes.NewReader(body)))
	}
	res, err := s.es.Indices.Create(name, opts...)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		err := responseError(res)
		var serr *Error
		if errors.As(err, &serr) && strings.Contains(serr.Reason, "already_exists") {
			return nil
		}
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	return nil
}

func (s *ESStore) Get(ctx context.Context, did string) (ddo.DDO, error) {
	src, err := s.getSource(ctx, s.index, did)
	if err != nil {
		return nil, err
	}
	return ddo.Parse(src)
}

func (s *ESStore) getSource(ctx context.Context, index, id string) (json.RawMessage, error) {
	res, err := s.es.Get(index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", index, id, ErrNotFound)
	}
	if res.IsError() {
		return nil, responseError(res)
	}
	var doc struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", index, id, err)
	}
	if !doc.Found {
		return nil, fmt.Errorf("%s/%s: %w", index, id, ErrNotFound)
	}
	return doc.Source, nil
}

func (s *ESStore) Put(ctx context.Context, d ddo.DDO) error {
	did := d.ID()
	if did == "" {
		return errors.New("cannot store a ddo without id")
	}
	bz, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", did, err)
	}
	return s.putSource(ctx, s.index, did, bz)
}

func (s *ESStore) putSource(ctx context.Context, index, id string, body []byte) error {
	res, err := s.es.Index(index, bytes.NewReader(body),
		s.es.Index.WithDocumentID(id),
		s.es.Index.WithRefresh(refreshWaitFor),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

func (s *ESStore) Delete(ctx context.Context, did string) error {
	return s.deleteDoc(ctx, s.index, did)
}

func (s *ESStore) deleteDoc(ctx context.Context, index, id string) error {
	res, err := s.es.Delete(index, id,
		s.es.Delete.WithRefresh(refreshWaitFor),
		s.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s/%s: %w", index, id, ErrNotFound)
	}
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

func (s *ESStore) Search(ctx context.Context, query []byte) (json.RawMessage, error) {
	res, err := s.es.Search(
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(query)),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return sanitizeHits(raw)
}

// sanitizeHits drops engine bookkeeping fields from the _source of every hit,
// keeping the rest of the response (aggregations, scroll ids) as it came.
func sanitizeHits(raw []byte) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding search result: %w", err)
	}
	var hits map[string]json.RawMessage
	if len(body["hits"]) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(body["hits"], &hits); err != nil {
		return nil, fmt.Errorf("decoding search hits: %w", err)
	}
	var list []map[string]json.RawMessage
	if len(hits["hits"]) > 0 {
		if err := json.Unmarshal(hits["hits"], &list); err != nil {
			return nil, fmt.Errorf("decoding search hits: %w", err)
		}
	}
	for _, hit := range list {
		src, ok := hit["_source"]
		if !ok {
			continue
		}
		d, err := ddo.Parse(src)
		if err != nil {
			continue
		}
		if hit["_source"], err = json.Marshal(d.Sanitize()); err != nil {
			return nil, err
		}
	}
	if list == nil {
		return raw, nil
	}

	var err error
	if hits["hits"], err = json.Marshal(list); err != nil {
		return nil, err
	}
	if body["hits"], err = json.Marshal(hits); err != nil {
		return nil, err
	}
	return json.Marshal(body)
}

// ListByChain pages through every asset of the chain with the scroll API.
func (s *ESStore) ListByChain(ctx context.Context, chainID int64) ([]ddo.DDO, error) {
	query, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":         strconv.FormatInt(chainID, 10),
				"default_field": "chainId",
			},
		},
		"size": scrollPageSize,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.es.Search(
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(query)),
		s.es.Search.WithScroll(scrollKeepAlive),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}

	var (
		out      []ddo.DDO
		scrollID string
	)
	defer func() {
		if scrollID != "" {
			if res, err := s.es.ClearScroll(s.es.ClearScroll.WithScrollID(scrollID)); err == nil {
				res.Body.Close()
			}
		}
	}()

	for {
		page, err := decodeScrollPage(res)
		if err != nil {
			return nil, err
		}
		scrollID = page.ScrollID
		if len(page.Hits.Hits) == 0 {
			return out, nil
		}
		for _, h := range page.Hits.Hits {
			d, err := ddo.Parse(h.Source)
			if err != nil {
				return nil, fmt.Errorf("decoding %s: %w", h.ID, err)
			}
			out = append(out, d)
		}
		if scrollID == "" {
			return out, nil
		}
		res, err = s.es.Scroll(
			s.es.Scroll.WithScrollID(scrollID),
			s.es.Scroll.WithScroll(scrollKeepAlive),
			s.es.Scroll.WithContext(ctx),
		)
		if err != nil {
			return nil, err
		}
	}
}

type scrollPage struct {
	ScrollID string `json:"_scroll_id"`
	SearchResult
}

func decodeScrollPage(res *esapi.Response) (*scrollPage, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}
	var page scrollPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding search page: %w", err)
	}
	return &page, nil
}

//-----------------------------------------------------------------------------
// bookkeeping

func (s *ESStore) LastBlock(ctx context.Context, chainID int64) (int64, bool, error) {
	src, err := s.getSource(ctx, s.plusIndex, lastBlockID(chainID))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var rec lastBlockRecord
	if err := json.Unmarshal(src, &rec); err != nil {
		return 0, false, fmt.Errorf("decoding last block of chain %d: %w", chainID, err)
	}
	return rec.LastBlock, true, nil
}

func (s *ESStore) SetLastBlock(ctx context.Context, chainID int64, block int64) error {
	stored, ok, err := s.LastBlock(ctx, chainID)
	if err != nil {
		return err
	}
	if ok && block <= stored {
		return nil
	}
	bz, err := json.Marshal(lastBlockRecord{LastBlock: block})
	if err != nil {
		return err
	}
	return s.putSource(ctx, s.plusIndex, lastBlockID(chainID), bz)
}

func (s *ESStore) ResetLastBlock(ctx context.Context, chainID int64) error {
	err := s.deleteDoc(ctx, s.plusIndex, lastBlockID(chainID))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *ESStore) AddChain(ctx context.Context, chainID int64) error {
	chains, err := s.Chains(ctx)
	if err != nil {
		return err
	}
	chains[strconv.FormatInt(chainID, 10)] = true
	bz, err := json.Marshal(chains)
	if err != nil {
		return err
	}
	return s.putSource(ctx, s.plusIndex, chainsID, bz)
}

func (s *ESStore) Chains(ctx context.Context) (map[string]bool, error) {
	chains := make(map[string]bool)
	src, err := s.getSource(ctx, s.plusIndex, chainsID)
	if errors.Is(err, ErrNotFound) {
		return chains, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(src, &chains); err != nil {
		return nil, fmt.Errorf("decoding chains: %w", err)
	}
	return chains, nil
}

// responseError turns an error response into an *Error.
func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	e := &Error{Status: res.StatusCode, Reason: res.Status()}

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var detail struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(payload.Error, &detail); err == nil && detail.Type != "" {
			e.Reason = detail.Type + ": " + detail.Reason
			e.Info = payload.Error
		} else {
			var msg string
			if json.Unmarshal(payload.Error, &msg) == nil {
				e.Reason = msg
			}
		}
	}
	return e
}
