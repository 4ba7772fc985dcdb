package strategy

import (
	"testing"

	"corrfuzz/internal/engine"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"empty", "", nil},
		{"function", "int main() { return 0; }", []string{"int", "main", "()", "{", "return", "0", ";", "}"}},
		{"string literal", `puts("a b");`, []string{"puts", "(", `"a b"`, ");"}},
		{"char literal", `c = 'x';`, []string{"c", "=", "'x'", ";"}},
		{"block comment", "a /* gone */ b", []string{"a", "b"}},
		{"line comment", "a // gone", []string{"a"}},
		{"dollar ident", "$x+1", []string{"$x", "+", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize([]byte(tt.src))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenizeRejectsBinary(t *testing.T) {
	_, err := Tokenize([]byte{0xff, 0xfe})
	assert.ErrorIs(t, err, ErrNotText)
}

func TestCodecRoundTrip(t *testing.T) {
	c := NewTokenCodec()
	codes, err := c.Encode([]byte("int x = x + 1;"))
	require.NoError(t, err)
	assert.Equal(t, engine.EncodedInput{0, 1, 2, 1, 3, 4, 5}, codes)
	assert.Equal(t, 6, c.Size())
	assert.Equal(t, "int x = x + 1 ;\x00", string(c.Decode(codes)))

	// the dictionary only grows
	more, err := c.Encode([]byte("x - 1"))
	require.NoError(t, err)
	assert.Equal(t, engine.EncodedInput{1, 6, 4}, more)
	assert.Equal(t, 7, c.Size())
}

func TestCodecDecodeWrapsAndTerminates(t *testing.T) {
	c := NewTokenCodec()
	assert.Equal(t, []byte{0}, c.Decode(engine.EncodedInput{1, 2}))

	_, err := c.Encode([]byte("a b"))
	require.NoError(t, err)
	assert.Equal(t, "b a\x00", string(c.Decode(engine.EncodedInput{3, 4})))
	assert.Equal(t, []byte{0}, c.Decode(nil))
}

func TestCodecDecodeKeepsExistingSentinel(t *testing.T) {
	c := NewTokenCodec()
	codes, err := c.Encode([]byte("a \x00"))
	require.NoError(t, err)
	assert.Equal(t, engine.EncodedInput{0, 1}, codes)
	assert.Equal(t, "a \x00", string(c.Decode(codes)))
	assert.Equal(t, "\x00 a\x00", string(c.Decode(engine.EncodedInput{1, 0})))
}
