package redeemcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRandomGeneratorRejectsBadLength(t *testing.T) {
	_, err := NewRandomGenerator(MinLength - 1)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = NewRandomGenerator(MaxLength + 1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestGenerateUsesAlphabetAndLength(t *testing.T) {
	g, err := NewRandomGenerator(DefaultLength)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		assert.Len(t, code, DefaultLength)
		assert.True(t, Valid(code), "unexpected code %q", code)
		assert.False(t, strings.ContainsAny(code, "01OI"))
	}
}

func TestGenerateSpreadsOutput(t *testing.T) {
	g, err := NewRandomGenerator(DefaultLength)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	// 32^8 вариантов, повтор на 1000 попытках означает сломанный источник энтропии.
	assert.Len(t, seen, 1000)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh":    "ABCDEFGH",
		"  k7m9 x2pq ": "K7M9X2PQ",
		"ZZZZ\tZZZZ":   "ZZZZZZZZ",
		"":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("K7M9X2PQ"))
	assert.False(t, Valid("K7M9X2P"[:5]))
	assert.False(t, Valid("K7M9X2P0"))
	assert.False(t, Valid("k7m9x2pq"))
}
