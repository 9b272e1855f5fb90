package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key any layer accepts.
const MaxKeyLength = 250

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control or whitespace characters
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: key contains whitespace", ErrInvalidKey)
		}
	}

	return nil
}

// KeyPattern builds and parses keys of the form prefix<sep>part<sep>part.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Prefix returns the pattern prefix.
func (kp *KeyPattern) Prefix() string {
	return kp.prefix
}

// Build creates a cache key from the pattern and provided parts.
// Example: NewKeyPattern("account", ":").Build("42") -> "account:42"
func (kp *KeyPattern) Build(parts ...string) string {
	if len(parts) == 0 {
		return kp.prefix
	}
	return kp.prefix + kp.separator + strings.Join(parts, kp.separator)
}

// Match reports whether key belongs to this pattern and returns the part
// after the prefix. Separators inside the remainder are kept.
func (kp *KeyPattern) Match(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, kp.prefix+kp.separator)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
