package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText collapses whitespace so that formatting-only differences in
// a diff map to the same content hash.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// ContentHash returns the stable fingerprint used to deduplicate embeddings.
// Language participates in the hash so identical text in different languages
// never collides.
func ContentHash(text, language string) string {
	normalized := NormalizeText(text)
	h := sha256.Sum256([]byte(normalized + "\x00" + strings.ToLower(language)))
	return hex.EncodeToString(h[:])
}
