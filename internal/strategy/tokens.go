package strategy

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"corrfuzz/internal/engine"
)

var ErrNotText = errors.New("input is not valid utf-8")

var (
	identRe   = regexp.MustCompile(`[A-Za-z0-9_$]+`)
	commentRe = regexp.MustCompile(`(/\*[^*]*\*/)|(//[^*]*)`)
	stringRe  = regexp.MustCompile(`("(\\|\\\\|[^"])*")|('(\\|\\\\|[^'])*')`)
)

// Tokenize splits C-like source into tokens. Comments are dropped, string
// and character literals stay whole, identifiers and numbers are split from
// the punctuation around them, and whitespace only separates.
func Tokenize(data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, ErrNotText
	}
	text := commentRe.ReplaceAllString(string(data), "")

	var tokens []string
	prev := 0
	for _, m := range stringRe.FindAllStringIndex(text, -1) {
		tokens = splitCode(tokens, text[prev:m[0]])
		tokens = append(tokens, text[m[0]:m[1]])
		prev = m[1]
	}
	return splitCode(tokens, text[prev:]), nil
}

func splitCode(tokens []string, code string) []string {
	for _, word := range strings.Fields(code) {
		prev := 0
		for _, m := range identRe.FindAllStringIndex(word, -1) {
			if m[0] > prev {
				tokens = append(tokens, word[prev:m[0]])
			}
			tokens = append(tokens, word[m[0]:m[1]])
			prev = m[1]
		}
		if prev < len(word) {
			tokens = append(tokens, word[prev:])
		}
	}
	return tokens
}

// TokenCodec maps tokens to dense codes. The dictionary only grows: encoding
// assigns the next free code to every unseen token.
type TokenCodec struct {
	mu     sync.RWMutex
	codes  map[string]uint32
	tokens []string
}

func NewTokenCodec() *TokenCodec {
	return &TokenCodec{codes: make(map[string]uint32)}
}

func (c *TokenCodec) Encode(data []byte) (engine.EncodedInput, error) {
	tokens, err := Tokenize(data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(engine.EncodedInput, len(tokens))
	for i, tok := range tokens {
		code, ok := c.codes[tok]
		if !ok {
			code = uint32(len(c.tokens))
			c.codes[tok] = code
			c.tokens = append(c.tokens, tok)
		}
		out[i] = code
	}
	return out, nil
}

// Decode renders the codes as their tokens separated by single spaces and
// terminates the result with a NUL byte, unless the last token already is
// one. Codes beyond the dictionary wrap around it.
func (c *TokenCodec) Decode(input engine.EncodedInput) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var buf []byte
	if n := uint32(len(c.tokens)); n > 0 {
		for i, code := range input {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = append(buf, c.tokens[code%n]...)
		}
	}
	if len(buf) == 0 || buf[len(buf)-1] != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func (c *TokenCodec) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
