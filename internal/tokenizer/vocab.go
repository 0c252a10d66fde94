package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// FromVocab builds a BERT-style uncased tokenizer from an ordered vocabulary,
// where a token's id is its index. The vocabulary must contain [UNK], [CLS],
// [SEP] and [PAD].
func FromVocab(vocab []string, maxLength int) (*Tokenizer, error) {
	ids := make(map[string]int64, len(vocab))
	for i, tok := range vocab {
		ids[tok] = int64(i)
	}
	for _, required := range []string{"[UNK]", "[CLS]", "[SEP]", "[PAD]"} {
		if _, ok := ids[required]; !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", required)
		}
	}

	model := &wordPiece{
		vocab:           ids,
		idToToken:       make(map[int64]string, len(ids)),
		unkToken:        "[UNK]",
		unkID:           ids["[UNK]"],
		prefix:          defaultSubwordPrefix,
		maxCharsPerWord: defaultMaxCharsPerWord,
	}
	for tok, id := range ids {
		model.idToToken[id] = tok
	}

	t := &Tokenizer{
		normalizer:   bertNormalizer{cleanText: true, handleChineseChars: true, stripAccents: true, lowercase: true},
		preTokenizer: preTokenizerFunc(bertPreTokenize),
		model:        model,
		template: template{
			{special: true, ids: []int64{ids["[CLS]"]}, tokens: []string{"[CLS]"}},
			{},
			{special: true, ids: []int64{ids["[SEP]"]}, tokens: []string{"[SEP]"}},
		},
		padding: &PaddingParams{Strategy: BatchLongest, Direction: Right, PadID: ids["[PAD]"], PadToken: "[PAD]"},
	}
	for _, special := range []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"} {
		if id, ok := ids[special]; ok {
			t.added = append(t.added, addedToken{ID: id, Content: special, Special: true})
		}
	}
	if maxLength > 0 {
		t.truncation = &TruncationParams{MaxLength: maxLength, Direction: Right}
	}
	return t, nil
}

// FromVocabFile reads a vocab.txt with one token per line.
func FromVocabFile(path string, maxLength int) (*Tokenizer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer file.Close()

	var vocab []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	t, err := FromVocab(vocab, maxLength)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return t, nil
}
