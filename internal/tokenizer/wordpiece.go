package tokenizer

import (
	"encoding/json"
	"fmt"
)

const (
	defaultSubwordPrefix   = "##"
	defaultMaxCharsPerWord = 100
)

type wordPiece struct {
	vocab           map[string]int64
	idToToken       map[int64]string
	unkToken        string
	unkID           int64
	prefix          string
	maxCharsPerWord int
}

type wordPieceConfig struct {
	Type                    string           `json:"type"`
	UnkToken                string           `json:"unk_token"`
	ContinuingSubwordPrefix *string          `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    *int             `json:"max_input_chars_per_word"`
	Vocab                   map[string]int64 `json:"vocab"`
}

func buildModel(raw json.RawMessage) (*wordPiece, error) {
	if isNull(raw) {
		return nil, &UnsupportedError{Component: "model", Type: "none"}
	}
	var cfg wordPieceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	// Older files omit the type on WordPiece models.
	if cfg.Type != "" && cfg.Type != "WordPiece" {
		return nil, &UnsupportedError{Component: "model", Type: cfg.Type}
	}
	if len(cfg.Vocab) == 0 {
		return nil, fmt.Errorf("model: empty vocabulary")
	}

	m := &wordPiece{
		vocab:           cfg.Vocab,
		idToToken:       make(map[int64]string, len(cfg.Vocab)),
		unkToken:        cfg.UnkToken,
		prefix:          defaultSubwordPrefix,
		maxCharsPerWord: defaultMaxCharsPerWord,
	}
	if m.unkToken == "" {
		m.unkToken = "[UNK]"
	}
	if cfg.ContinuingSubwordPrefix != nil {
		m.prefix = *cfg.ContinuingSubwordPrefix
	}
	if cfg.MaxInputCharsPerWord != nil {
		m.maxCharsPerWord = *cfg.MaxInputCharsPerWord
	}
	for tok, id := range cfg.Vocab {
		m.idToToken[id] = tok
	}
	id, ok := cfg.Vocab[m.unkToken]
	if !ok {
		return nil, fmt.Errorf("model: unknown token %q missing from vocabulary", m.unkToken)
	}
	m.unkID = id
	return m, nil
}

// tokenize splits one pre-tokenized word by greedy longest match. A word with
// any unmatched span becomes a single unknown token.
func (m *wordPiece) tokenize(word string) ([]int64, []string) {
	chars := []rune(word)
	if len(chars) > m.maxCharsPerWord {
		return []int64{m.unkID}, []string{m.unkToken}
	}

	var ids []int64
	var toks []string
	start := 0
	for start < len(chars) {
		end := len(chars)
		matched := false
		for start < end {
			sub := string(chars[start:end])
			if start > 0 {
				sub = m.prefix + sub
			}
			if id, ok := m.vocab[sub]; ok {
				ids = append(ids, id)
				toks = append(toks, sub)
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []int64{m.unkID}, []string{m.unkToken}
		}
		start = end
	}
	return ids, toks
}
