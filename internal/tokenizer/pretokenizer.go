package tokenizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type preTokenizer interface {
	split(s string) []string
}

type preTokenizerFunc func(string) []string

func (f preTokenizerFunc) split(s string) []string { return f(s) }

// bertPreTokenize splits on whitespace and isolates every punctuation rune.
func bertPreTokenize(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case isWhitespace(r):
			flush()
		case isPunctuation(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// Word characters are Unicode-aware; Go's \w only matches ASCII.
var whitespaceWords = regexp.MustCompile(`[\p{L}\p{M}\p{Nd}\p{Pc}]+|[^\p{L}\p{M}\p{Nd}\p{Pc}\s\p{Z}]+`)

func whitespacePreTokenize(s string) []string {
	return whitespaceWords.FindAllString(s, -1)
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

type preTokenizerSequence []preTokenizer

func (seq preTokenizerSequence) split(s string) []string {
	words := []string{s}
	for _, p := range seq {
		var next []string
		for _, w := range words {
			next = append(next, p.split(w)...)
		}
		words = next
	}
	return words
}

type preTokenizerConfig struct {
	Type          string            `json:"type"`
	PreTokenizers []json.RawMessage `json:"pretokenizers"`
}

func buildPreTokenizer(raw json.RawMessage) (preTokenizer, error) {
	if isNull(raw) {
		return nil, nil
	}
	var cfg preTokenizerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("pre_tokenizer: %w", err)
	}

	switch cfg.Type {
	case "BertPreTokenizer":
		return preTokenizerFunc(bertPreTokenize), nil
	case "Whitespace":
		return preTokenizerFunc(whitespacePreTokenize), nil
	case "WhitespaceSplit":
		return preTokenizerFunc(strings.Fields), nil
	case "Sequence":
		seq := make(preTokenizerSequence, 0, len(cfg.PreTokenizers))
		for _, child := range cfg.PreTokenizers {
			p, err := buildPreTokenizer(child)
			if err != nil {
				return nil, err
			}
			if p != nil {
				seq = append(seq, p)
			}
		}
		return seq, nil
	default:
		return nil, &UnsupportedError{Component: "pre_tokenizer", Type: cfg.Type}
	}
}
