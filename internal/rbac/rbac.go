// Package rbac asks an external role based access control server whether a
// DDO may be validated.
package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tendermint/aquarius/internal/ddo"
)

const defaultTimeout = 10 * time.Second

// Client talks to the RBAC server. A Client with an empty URL allows
// everything.
type Client struct {
	url  string
	http *http.Client
}

// NewClient returns a client for url.
func NewClient(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: defaultTimeout}}
}

// Enabled reports whether an RBAC server is configured.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

type request struct {
	EventType string  `json:"eventType"`
	Component string  `json:"component"`
	DDO       ddo.DDO `json:"ddo"`
}

// Validate reports whether the server accepts d. The server answers with a
// bare JSON boolean.
func (c *Client) Validate(ctx context.Context, d ddo.DDO) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	body, err := json.Marshal(request{EventType: "validate", Component: "metadatacache", DDO: d})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("rbac request: %w", err)
	}
	defer res.Body.Close()

	bz, err := io.ReadAll(res.Body)
	if err != nil {
		return false, fmt.Errorf("reading rbac response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("rbac server answered %s: %s", res.Status, bytes.TrimSpace(bz))
	}
	var allowed bool
	if err := json.Unmarshal(bz, &allowed); err != nil {
		return false, fmt.Errorf("decoding rbac response: %w", err)
	}
	return allowed, nil
}
