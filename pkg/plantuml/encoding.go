// Package plantuml implements the text encoding PlantUML servers accept in
// URL paths: raw DEFLATE followed by base64 over the alphabet
// 0-9 A-Z a-z - _.
package plantuml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

var ErrEncodingFailed = errors.New("plantuml encoding failed")

var b64 = base64.NewEncoding(alphabet).WithPadding(base64.NoPadding)

// Encode compresses source and returns its URL-safe form. The output always
// has a length divisible by four, trailing groups being filled with '0' the
// way the reference encoder does.
func Encode(source string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if _, err := io.WriteString(w, source); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	s := b64.EncodeToString(buf.Bytes())
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("0", 4-rem)
	}
	return s, nil
}

// Decode is the inverse of Encode.
func Decode(encoded string) (string, error) {
	raw, err := b64.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrEncodingFailed, err)
	}

	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: inflate: %v", ErrEncodingFailed, err)
	}
	return string(out), nil
}
