// Package ddo models asset description documents (DDOs) as stored in the
// asset index.
package ddo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// DIDPrefix prefixes every asset identifier.
const DIDPrefix = "did:op:"

var (
	// ErrInvalidDID is returned when a DDO id does not match its NFT and chain.
	ErrInvalidDID = errors.New("invalid did")
	// ErrNotObject is returned when a payload is not a JSON object.
	ErrNotObject = errors.New("ddo is not a JSON object")
)

// MakeDID derives the DID of the asset backed by the data NFT at nftAddress
// on chainID.
func MakeDID(nftAddress string, chainID int64) string {
	sum := sha256.Sum256([]byte(common.HexToAddress(nftAddress).Hex() + strconv.FormatInt(chainID, 10)))
	return DIDPrefix + hex.EncodeToString(sum[:])
}

// DDO is a decoded asset document. Fields the indexer does not interpret are
// kept verbatim.
type DDO map[string]interface{}

// Parse decodes a JSON object into a DDO. Numbers are kept as json.Number so
// that documents survive a round trip unchanged.
func Parse(bz []byte) (DDO, error) {
	dec := json.NewDecoder(bytes.NewReader(bz))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding ddo: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	return DDO(m), nil
}

// Copy returns a deep copy of d.
func (d DDO) Copy() DDO {
	if d == nil {
		return nil
	}
	return DDO(copyValue(map[string]interface{}(d)).(map[string]interface{}))
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, x := range t {
			m[k] = copyValue(x)
		}
		return m
	case DDO:
		return copyValue(map[string]interface{}(t))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, x := range t {
			s[i] = copyValue(x)
		}
		return s
	default:
		return v
	}
}

func (d DDO) ID() string         { return d.StringField("id") }
func (d DDO) Version() string    { return d.StringField("version") }
func (d DDO) NFTAddress() string { return d.StringField("nftAddress") }

// ChainID returns the chainId field, accepting numbers and numeric strings.
func (d DDO) ChainID() (int64, bool) {
	return toInt64(d["chainId"])
}

// IntField returns a top-level integer field, accepting numbers and numeric
// strings.
func (d DDO) IntField(key string) (int64, bool) {
	return toInt64(d[key])
}

// StringField returns a top-level string field, or "" when missing.
func (d DDO) StringField(key string) string {
	s, _ := d[key].(string)
	return s
}

// Object returns a nested object field, or nil.
func (d DDO) Object(key string) map[string]interface{} {
	switch t := d[key].(type) {
	case map[string]interface{}:
		return t
	case DDO:
		return t
	}
	return nil
}

// Metadata returns the metadata section.
func (d DDO) Metadata() map[string]interface{} { return d.Object("metadata") }

// Name returns metadata.name.
func (d DDO) Name() string {
	s, _ := d.Metadata()["name"].(string)
	return s
}

// Services returns the service entries that are objects.
func (d DDO) Services() []map[string]interface{} {
	list, _ := d["services"].([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, s := range list {
		if m, ok := s.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// EventBlock returns event.block, the block of the event that last wrote the
// document.
func (d DDO) EventBlock() (int64, bool) {
	return toInt64(d.Object("event")["block"])
}

// NFTState returns nft.state.
func (d DDO) NFTState() (int64, bool) {
	return toInt64(d.Object("nft")["state"])
}

// Sanitize drops search engine bookkeeping fields.
func (d DDO) Sanitize() DDO {
	for _, k := range []string{"_id", "_index", "_score", "_type"} {
		delete(d, k)
	}
	return d
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint64:
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}
