package ddo

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Flags carried by metadata events.
const (
	FlagCompressed byte = 1 << 0
	FlagEncrypted  byte = 1 << 1
)

// ErrHashMismatch is returned when a document does not hash to the value
// published on chain.
var ErrHashMismatch = errors.New("metadata hash mismatch")

var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// Decompress inflates an lzma compressed document. Both the xz container and
// the legacy .lzma format are accepted.
func Decompress(data []byte) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	if bytes.HasPrefix(data, xzMagic) {
		r, err = xz.NewReader(bytes.NewReader(data))
	} else {
		r, err = lzma.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("opening compressed ddo: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing ddo: %w", err)
	}
	return out, nil
}

// Compress produces the xz form accepted by Decompress.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyHash checks that sha256(data) equals the published hash.
func VerifyHash(data []byte, hash [32]byte) error {
	if sha256.Sum256(data) != hash {
		return ErrHashMismatch
	}
	return nil
}
