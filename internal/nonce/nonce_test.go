package nonce

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestGenerator_Generate(t *testing.T) {
	g := NewGenerator(DefaultSize)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n, err := g.Generate()
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(n)
		require.NoError(t, err)
		assert.Len(t, raw, DefaultSize)

		assert.False(t, seen[n], "nonce repeated")
		seen[n] = true
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	g := NewGeneratorWithReader(4, bytes.NewReader([]byte{1, 2, 3, 4}))

	n, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "AQIDBA==", n)
}

func TestGenerator_Errors(t *testing.T) {
	g := NewGeneratorWithReader(16, failingReader{})

	n, err := g.Generate()
	assert.Error(t, err)
	assert.Empty(t, n)

	// short reads are errors too
	g = NewGeneratorWithReader(16, bytes.NewReader([]byte{1, 2}))
	_, err = g.Generate()
	assert.Error(t, err)
}

func TestGenerator_DefaultSize(t *testing.T) {
	n, err := Generate(0)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(n)
	require.NoError(t, err)
	assert.Len(t, raw, DefaultSize)
}

func TestContext(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	ctx = WithNonce(ctx, "abc")
	n, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", n)

	// an empty nonce counts as absent
	_, ok = FromContext(WithNonce(context.Background(), ""))
	assert.False(t, ok)
}

func TestSources(t *testing.T) {
	n, ok := Static("x").Current()
	assert.True(t, ok)
	assert.Equal(t, "x", n)

	_, ok = Static("").Current()
	assert.False(t, ok)

	src := ContextSource(WithNonce(context.Background(), "from-ctx"))
	n, ok = src.Current()
	assert.True(t, ok)
	assert.Equal(t, "from-ctx", n)

	_, ok = ContextSource(context.Background()).Current()
	assert.False(t, ok)
}
