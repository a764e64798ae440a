package secret

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Redacted is written wherever a secret value would otherwise appear.
const Redacted = "***"

// Sink receives raw secret bytes. Sinks are owned by adapters (env file
// renderers, hashers); nothing else ever sees the bytes.
type Sink interface {
	Inject(key string, value []byte) error
}

// Handle wraps a resolved secret value. Every formatting and encoding path
// emits Redacted; InjectTo is the only way to reach the bytes.
type Handle struct {
	ref   string
	value []byte
}

// NewHandle wraps value. The slice is copied.
func NewHandle(ref string, value []byte) *Handle {
	v := make([]byte, len(value))
	copy(v, value)
	return &Handle{ref: ref, value: v}
}

// Ref returns the secret-ref name this handle was resolved from.
func (h *Handle) Ref() string {
	if h == nil {
		return ""
	}
	return h.ref
}

// InjectTo hands the raw value to sink under key.
func (h *Handle) InjectTo(key string, sink Sink) error {
	if h == nil {
		return fmt.Errorf("secret %s: no value resolved", key)
	}
	return sink.Inject(key, h.value)
}

func (h *Handle) String() string   { return Redacted }
func (h *Handle) GoString() string { return Redacted }

// Format covers every fmt verb, including %v on structs that embed a Handle.
func (h *Handle) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(Redacted))
}

func (h *Handle) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }
func (h *Handle) MarshalText() ([]byte, error) { return []byte(Redacted), nil }
func (h *Handle) MarshalYAML() (any, error)    { return Redacted, nil }

// HashPrefix prefixes every value hash.
const HashPrefix = "sha256:"

// HashValue hashes a literal value the same way HashSink hashes a secret.
func HashValue(value []byte) string {
	return digest(sha256.New(), value)
}

func digest(h hash.Hash, value []byte) string {
	h.Write(value)
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// HashSink records the hash of each injected value.
type HashSink struct {
	Hashes map[string]string
}

// NewHashSink creates an empty hash sink.
func NewHashSink() *HashSink {
	return &HashSink{Hashes: make(map[string]string)}
}

func (s *HashSink) Inject(key string, value []byte) error {
	s.Hashes[key] = HashValue(value)
	return nil
}

// Hash returns the value hash of h.
func Hash(key string, h *Handle) (string, error) {
	sink := NewHashSink()
	if err := h.InjectTo(key, sink); err != nil {
		return "", err
	}
	return sink.Hashes[key], nil
}
