package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tendermint/aquarius/internal/signer"
)

const (
	decryptPath    = "/api/services/decrypt"
	decryptTimeout = 30 * time.Second
)

// DecryptRequest identifies an encrypted document published on chain.
type DecryptRequest struct {
	// Base URL of the provider that encrypted the document.
	URL     string
	TxHash  common.Hash
	ChainID int64
	NFT     common.Address
}

// Decryptor turns the encrypted payload of a metadata event into the
// plain document bytes.
type Decryptor interface {
	Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error)
}

// ProviderDecryptor asks the publishing provider to decrypt a document,
// authenticating with the service key.
type ProviderDecryptor struct {
	signer *signer.Signer
	http   *http.Client
	now    func() time.Time
}

// NewProviderDecryptor returns a Decryptor signing requests with s.
func NewProviderDecryptor(s *signer.Signer) *ProviderDecryptor {
	return &ProviderDecryptor{
		signer: s,
		http:   &http.Client{Timeout: decryptTimeout},
		now:    time.Now,
	}
}

type decryptPayload struct {
	TransactionID    string `json:"transactionId"`
	ChainID          int64  `json:"chainId"`
	DecrypterAddress string `json:"decrypterAddress"`
	DataNftAddress   string `json:"dataNftAddress"`
	Signature        string `json:"signature"`
	Nonce            string `json:"nonce"`
}

func (p *ProviderDecryptor) Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error) {
	if p.signer == nil {
		return nil, fmt.Errorf("decrypting %s: %w", req.TxHash.Hex(), signer.ErrNoKey)
	}
	nonce := strconv.FormatInt(p.now().UnixMilli(), 10)
	decrypter := p.signer.Address().Hex()

	// tx hash || decrypter || chain id || nonce
	msg := req.TxHash.Hex() + decrypter + strconv.FormatInt(req.ChainID, 10) + nonce
	sig, err := p.signer.SignText(msg)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(decryptPayload{
		TransactionID:    req.TxHash.Hex(),
		ChainID:          req.ChainID,
		DecrypterAddress: decrypter,
		DataNftAddress:   req.NFT.Hex(),
		Signature:        sig.Hex(),
		Nonce:            nonce,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(req.URL, "/") + decryptPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	res, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("decrypt request to %s: %w", url, err)
	}
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading decrypt response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s answered %s: %s", url, res.Status, bytes.TrimSpace(out))
	}
	return out, nil
}
