// Package hash computes the content and metadata fingerprints that the
// ingestion core keys on.
//
// Both fingerprints must be stable across processes: duplicate detection,
// deprecation targeting, and backup manifests all compare hex digests
// produced here.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes document content before fingerprinting:
// per-line trailing whitespace is stripped, trailing newlines collapse to
// exactly one, and the text is put into Unicode NFC form.
func Normalize(content []byte) []byte {
	text := norm.NFC.String(string(content))

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = strings.Join(lines, "\n")

	text = strings.TrimRight(text, "\n")
	if text == "" {
		return []byte{}
	}
	return []byte(text + "\n")
}

// Sum returns the SHA-256 hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Content returns the content fingerprint: Sum(Normalize(content)).
func Content(content []byte) string {
	return Sum(Normalize(content))
}

// CanonicalMap returns the metadata fingerprint of a flat field map.
// Keys are serialized in sorted order with a single JSON encoding for
// strings and string arrays, so two envelopes that differ only in field
// order or volatile state produce the same digest. The caller is
// responsible for excluding volatile fields before calling.
func CanonicalMap(fields map[string]any) string {
	// encoding/json sorts map keys, which gives the canonical ordering.
	data, err := json.Marshal(fields)
	if err != nil {
		// Only non-serializable values can get here; the envelope layer
		// passes strings, bools, ints and string slices exclusively.
		return Sum([]byte("unserializable"))
	}
	return Sum(data)
}
