// Package tokenizer provides a greedy longest-match tokenizer over a
// flat JSON vocabulary. It is deliberately simple: the vocabulary file
// lists every token string in id order, and encoding walks the text
// taking the longest matching token at each position.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/23skdu/longbow-neox/internal/logger"
)

// Tokenizer maps between text and token ids.
type Tokenizer struct {
	tokens []string
	byText map[string]int
	maxLen int
}

type vocabFile struct {
	Tokens []string `json:"tokens"`
}

// Load reads a vocabulary JSON file of the form
// {"tokens": ["a", "b", ...]} where index is token id.
func Load(path string) (*Tokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	var vf vocabFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("tokenizer: bad vocabulary file: %w", err)
	}
	return New(vf.Tokens)
}

// New builds a tokenizer from an id-ordered token list.
func New(tokens []string) (*Tokenizer, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}
	t := &Tokenizer{
		tokens: tokens,
		byText: make(map[string]int, len(tokens)),
	}
	for id, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, dup := t.byText[tok]; dup {
			return nil, fmt.Errorf("tokenizer: duplicate token %q", tok)
		}
		t.byText[tok] = id
		if len(tok) > t.maxLen {
			t.maxLen = len(tok)
		}
	}
	return t, nil
}

// VocabSize reports the number of token ids.
func (t *Tokenizer) VocabSize() int { return len(t.tokens) }

// Encode tokenizes text greedily, preferring the longest vocabulary
// match at each byte position. Bytes no token covers are skipped with
// a warning rather than failing the whole request.
func (t *Tokenizer) Encode(text string) []int {
	var ids []int
	for i := 0; i < len(text); {
		end := i + t.maxLen
		if end > len(text) {
			end = len(text)
		}
		matched := false
		for j := end; j > i; j-- {
			if id, ok := t.byText[text[i:j]]; ok {
				ids = append(ids, id)
				i = j
				matched = true
				break
			}
		}
		if !matched {
			logger.Warn("tokenizer: no vocabulary entry", "byte", text[i])
			i++
		}
	}
	return ids
}

// Decode concatenates the token strings for ids. Unknown ids decode
// to nothing.
func (t *Tokenizer) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id >= 0 && id < len(t.tokens) {
			b.WriteString(t.tokens[id])
		}
	}
	return b.String()
}
