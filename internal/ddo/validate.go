package ddo

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Metadata types accepted in metadata.type.
const (
	TypeDataset   = "dataset"
	TypeAlgorithm = "algorithm"
)

var versionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidationErrors maps a field path to a description of what is wrong with it.
type ValidationErrors map[string]string

func (v ValidationErrors) add(field, format string, args ...interface{}) {
	if _, ok := v[field]; !ok {
		v[field] = fmt.Sprintf(format, args...)
	}
}

// ValidateBasic performs structural validation of a published DDO. It
// returns nil when the document is valid.
func (d DDO) ValidateBasic() ValidationErrors {
	errs := ValidationErrors{}

	for _, field := range []string{"@context", "id", "version", "chainId", "nftAddress", "metadata", "services"} {
		if _, ok := d[field]; !ok {
			errs.add(field, "required")
		}
	}

	if v := d.Version(); v != "" && !versionRe.MatchString(v) {
		errs.add("version", "must be a semantic version, got %q", v)
	}

	chainID, okChain := d.ChainID()
	if _, present := d["chainId"]; present && !okChain {
		errs.add("chainId", "must be an integer")
	}

	nft := d.NFTAddress()
	okNFT := common.IsHexAddress(nft)
	if _, present := d["nftAddress"]; present && !okNFT {
		errs.add("nftAddress", "must be an address")
	}

	if id := d.ID(); id != "" && okChain && okNFT {
		if want := MakeDID(nft, chainID); id != want {
			errs.add("id", "%v: expected %s", ErrInvalidDID, want)
		}
	} else if _, present := d["id"]; present && !strings.HasPrefix(id, DIDPrefix) {
		errs.add("id", "must start with %s", DIDPrefix)
	}

	if _, present := d["metadata"]; present {
		validateMetadata(d.Metadata(), errs)
	}
	if _, present := d["services"]; present {
		validateServices(d, errs)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateMetadata(md map[string]interface{}, errs ValidationErrors) {
	if md == nil {
		errs.add("metadata", "must be an object")
		return
	}
	for _, field := range []string{"created", "updated", "type", "name", "description", "author", "license"} {
		s, ok := md[field].(string)
		if !ok || s == "" {
			errs.add("metadata."+field, "required")
		}
	}
	for _, field := range []string{"created", "updated"} {
		s, ok := md[field].(string)
		if !ok || s == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			errs.add("metadata."+field, "must be an ISO 8601 date-time")
		}
	}
	if t, ok := md["type"].(string); ok && t != "" && t != TypeDataset && t != TypeAlgorithm {
		errs.add("metadata.type", "must be %s or %s", TypeDataset, TypeAlgorithm)
	}
	if t, _ := md["type"].(string); t == TypeAlgorithm {
		if _, ok := md["algorithm"].(map[string]interface{}); !ok {
			errs.add("metadata.algorithm", "required for algorithms")
		}
	}
	if tags, ok := md["tags"]; ok {
		if _, isList := tags.([]interface{}); !isList {
			errs.add("metadata.tags", "must be a list")
		}
	}
}

func validateServices(d DDO, errs ValidationErrors) {
	list, ok := d["services"].([]interface{})
	if !ok {
		errs.add("services", "must be a list")
		return
	}
	if len(list) == 0 {
		errs.add("services", "at least one service is required")
		return
	}
	ids := make(map[string]bool, len(list))
	for i, raw := range list {
		prefix := fmt.Sprintf("services[%d]", i)
		s, ok := raw.(map[string]interface{})
		if !ok {
			errs.add(prefix, "must be an object")
			continue
		}
		for _, field := range []string{"id", "type", "files", "datatokenAddress", "serviceEndpoint", "timeout"} {
			if _, ok := s[field]; !ok {
				errs.add(prefix+"."+field, "required")
			}
		}
		if id, _ := s["id"].(string); id != "" {
			if ids[id] {
				errs.add(prefix+".id", "duplicate service id %q", id)
			}
			ids[id] = true
		}
		if dt, ok := s["datatokenAddress"]; ok {
			if a, _ := dt.(string); !common.IsHexAddress(a) {
				errs.add(prefix+".datatokenAddress", "must be an address")
			}
		}
		if ep, ok := s["serviceEndpoint"]; ok {
			if u, _ := ep.(string); !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				errs.add(prefix+".serviceEndpoint", "must be an http(s) URL")
			}
		}
		if to, ok := s["timeout"]; ok {
			if n, isInt := toInt64(to); !isInt || n < 0 {
				errs.add(prefix+".timeout", "must be a non-negative integer")
			}
		}
	}
}
