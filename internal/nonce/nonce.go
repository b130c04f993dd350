// Package nonce generates per-request CSP nonces and carries them through the
// request context.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DefaultSize is the number of random bytes in a nonce (128 bits).
const DefaultSize = 16

// Generator produces nonce tokens.
type Generator struct {
	size   int
	reader io.Reader
}

// NewGenerator creates a generator reading size bytes from crypto/rand.
func NewGenerator(size int) *Generator {
	return NewGeneratorWithReader(size, rand.Reader)
}

// NewGeneratorWithReader creates a generator with a custom entropy source.
func NewGeneratorWithReader(size int, r io.Reader) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{size: size, reader: r}
}

// Generate returns a new base64 encoded token.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, g.size)
	if _, err := io.ReadFull(g.reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Generate returns a token of size random bytes using crypto/rand.
func Generate(size int) (string, error) {
	return NewGenerator(size).Generate()
}

type nonceKey struct{}

// WithNonce returns a context carrying the nonce.
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// FromContext returns the nonce stored in ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	n, ok := ctx.Value(nonceKey{}).(string)
	return n, ok && n != ""
}

// Source supplies the nonce of the current response cycle.
type Source interface {
	Current() (string, bool)
}

// Static is a Source holding a fixed token. The empty string means absent.
type Static string

// Current returns the token
func (s Static) Current() (string, bool) {
	return string(s), s != ""
}

type contextSource struct {
	ctx context.Context
}

// ContextSource returns a Source reading the nonce from ctx.
func ContextSource(ctx context.Context) Source {
	return contextSource{ctx: ctx}
}

func (c contextSource) Current() (string, bool) {
	return FromContext(c.ctx)
}
