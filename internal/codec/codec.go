// Package codec holds the Decrypter implementations used to unwrap task
// configuration blobs before they are parsed.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// Decrypter turns a stored or downloaded blob into YAML text.
type Decrypter interface {
	Decrypt(blob []byte) (string, error)
}

// Func adapts a plain function to Decrypter.
type Func func(blob []byte) (string, error)

func (f Func) Decrypt(blob []byte) (string, error) { return f(blob) }

// Plain returns the blob unchanged.
type Plain struct{}

func (Plain) Decrypt(blob []byte) (string, error) { return string(blob), nil }

// Base64 decodes standard or URL-safe base64, padded or not. Whitespace and
// line breaks in the blob are ignored.
type Base64 struct{}

func (Base64) Decrypt(blob []byte) (string, error) {
	s := strings.Join(strings.Fields(string(bytes.TrimSpace(blob))), "")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if out, err := enc.DecodeString(s); err == nil {
			return string(out), nil
		}
	}
	return "", fmt.Errorf("base64: invalid input (%d bytes)", len(blob))
}

// ByName resolves a configured codec name.
func ByName(name string) (Decrypter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain", "none":
		return Plain{}, nil
	case "base64", "b64":
		return Base64{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
