package pagecache

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// gzipMagic is the RFC 1952 member header.
var gzipMagic = []byte{0x1f, 0x8b}

var (
	ErrEmptyPayload        = errors.New("page cache payload is empty")
	ErrUnrecognizedPayload = errors.New("page cache payload is neither gzip bytes, hex nor base64")
	ErrNotGzip             = errors.New("page cache payload is not gzip")
	ErrHTMLTooLarge        = errors.New("decompressed page html exceeds size limit")
)

// MaxHTMLBytes caps the inflated size of a single cached page.
const MaxHTMLBytes = 32 << 20

var (
	hexPattern        = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	base64Pattern     = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// PayloadKind records how a stored payload was encoded.
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadRaw
	PayloadHex
	PayloadBase64
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadRaw:
		return "raw"
	case PayloadHex:
		return "hex"
	case PayloadBase64:
		return "base64"
	default:
		return "unknown"
	}
}

// DecodePayload turns a stored html_compressed value into gzip bytes.
// Byte slices that already start with the gzip magic are used as is; other
// byte slices and strings are treated as text and classified as hex or
// base64, hex winning when both patterns match. The result always starts
// with the gzip magic, otherwise an error is returned.
func DecodePayload(raw any) ([]byte, PayloadKind, error) {
	switch v := raw.(type) {
	case nil:
		return nil, PayloadUnknown, ErrEmptyPayload
	case []byte:
		if len(v) == 0 {
			return nil, PayloadUnknown, ErrEmptyPayload
		}
		if hasGzipMagic(v) {
			return v, PayloadRaw, nil
		}
		return decodeText(string(v))
	case string:
		return decodeText(v)
	default:
		return nil, PayloadUnknown, fmt.Errorf("%w: unsupported type %T", ErrUnrecognizedPayload, raw)
	}
}

func decodeText(s string) ([]byte, PayloadKind, error) {
	s = whitespacePattern.ReplaceAllString(strings.TrimSpace(s), "")
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		return nil, PayloadUnknown, ErrEmptyPayload
	}

	var (
		buf  []byte
		kind PayloadKind
		err  error
	)
	switch {
	case hexPattern.MatchString(s) && len(s)%2 == 0:
		kind = PayloadHex
		buf, err = hex.DecodeString(s)
	case base64Pattern.MatchString(s) && len(s) >= 4:
		kind = PayloadBase64
		buf, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			buf, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		}
	default:
		return nil, PayloadUnknown, ErrUnrecognizedPayload
	}
	if err != nil {
		return nil, kind, fmt.Errorf("%w: %s decode: %v", ErrUnrecognizedPayload, kind, err)
	}
	if !hasGzipMagic(buf) {
		return nil, kind, ErrNotGzip
	}
	return buf, kind, nil
}

func hasGzipMagic(b []byte) bool {
	return len(b) >= 2 && b[0] == gzipMagic[0] && b[1] == gzipMagic[1]
}

// Decompress inflates a gzip stream into a UTF-8 string of at most
// MaxHTMLBytes.
func Decompress(buf []byte) (string, error) {
	return decompressLimit(buf, MaxHTMLBytes)
}

func decompressLimit(buf []byte, limit int64) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(out)) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrHTMLTooLarge, limit)
	}
	return string(out), nil
}
