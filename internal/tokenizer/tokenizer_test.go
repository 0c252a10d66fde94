package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testTokenizerJSON = `{
  "version": "1.0",
  "truncation": {"direction": "Right", "max_length": 8, "strategy": "LongestFirst", "stride": 0},
  "padding": {"strategy": {"Fixed": 16}, "direction": "Right", "pad_to_multiple_of": null, "pad_id": 0, "pad_type_id": 0, "pad_token": "[PAD]"},
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": null, "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [{"SpecialToken": {"id": "[CLS]", "type_id": 0}}, {"Sequence": {"id": "A", "type_id": 0}}, {"SpecialToken": {"id": "[SEP]", "type_id": 0}}],
    "pair": [],
    "special_tokens": {
      "[CLS]": {"id": "[CLS]", "ids": [2], "tokens": ["[CLS]"]},
      "[SEP]": {"id": "[SEP]", "ids": [3], "tokens": ["[SEP]"]}
    }
  },
  "model": {
    "type": "WordPiece", "unk_token": "[UNK]", "continuing_subword_prefix": "##", "max_input_chars_per_word": 100,
    "vocab": {"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "hello": 4, "world": 5, "play": 6, "##ing": 7, "!": 8, "cafe": 9, "中": 10}
  }
}`

func loadTest(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := FromBytes([]byte(testTokenizerJSON))
	if err != nil {
		t.Fatalf("Failed to parse tokenizer: %v", err)
	}
	return tok
}

func TestEncode(t *testing.T) {
	tok := loadTest(t)

	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"simple", "hello world", []int64{2, 4, 5, 3}},
		{"lowercase and punctuation", "Hello, World!", []int64{2, 4, 1, 5, 8, 3}},
		{"subwords", "playing", []int64{2, 6, 7, 3}},
		{"unknown word", "xyz", []int64{2, 1, 3}},
		{"accents stripped", "Café", []int64{2, 9, 3}},
		{"chinese chars isolated", "hello中world", []int64{2, 4, 10, 5, 3}},
		{"raw special token", "[CLS] hello", []int64{2, 2, 4, 3}},
		{"empty", "", []int64{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := tok.Encode(tt.text)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !reflect.DeepEqual(enc.IDs, tt.want) {
				t.Errorf("Expected ids %v, got %v (tokens %v)", tt.want, enc.IDs, enc.Tokens)
			}
			if len(enc.AttentionMask) != len(enc.IDs) || len(enc.TypeIDs) != len(enc.IDs) {
				t.Errorf("Expected aligned mask and type ids, got %d/%d for %d ids", len(enc.AttentionMask), len(enc.TypeIDs), len(enc.IDs))
			}
		})
	}
}

func TestTruncationCountsSpecialTokens(t *testing.T) {
	tok := loadTest(t)
	enc, err := tok.Encode(strings.Repeat("hello ", 20))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if enc.Len() != 8 {
		t.Fatalf("Expected 8 tokens, got %d", enc.Len())
	}
	if enc.IDs[0] != 2 || enc.IDs[7] != 3 {
		t.Errorf("Expected [CLS] ... [SEP], got %v", enc.IDs)
	}

	tok.WithTruncation(&TruncationParams{MaxLength: 1})
	_, err = tok.Encode("hello")
	var truncErr *TruncationError
	if !errors.As(err, &truncErr) {
		t.Errorf("Expected TruncationError, got %v", err)
	}
}

func TestPadding(t *testing.T) {
	tok := loadTest(t)

	p := tok.Padding()
	if p == nil || p.Strategy != Fixed || p.FixedLength != 16 {
		t.Fatalf("Expected fixed padding of 16, got %+v", p)
	}

	encs, err := tok.EncodeBatch([]string{"hello", "hello world"})
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if encs[0].Len() != 16 {
		t.Errorf("Expected fixed length 16, got %d", encs[0].Len())
	}

	p.Strategy = BatchLongest
	encs, err = tok.EncodeBatch([]string{"hello", "hello world"})
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if encs[0].Len() != 4 || encs[1].Len() != 4 {
		t.Fatalf("Expected both sequences padded to 4, got %d and %d", encs[0].Len(), encs[1].Len())
	}
	if !reflect.DeepEqual(encs[0].IDs, []int64{2, 4, 3, 0}) {
		t.Errorf("Expected right padding with pad id 0, got %v", encs[0].IDs)
	}
	if !reflect.DeepEqual(encs[0].AttentionMask, []int64{1, 1, 1, 0}) {
		t.Errorf("Expected mask [1 1 1 0], got %v", encs[0].AttentionMask)
	}
}

func TestNoPadding(t *testing.T) {
	tok := loadTest(t).WithPadding(nil)
	encs, err := tok.EncodeBatch([]string{"hello", "hello world"})
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	if encs[0].Len() == encs[1].Len() {
		t.Errorf("Expected ragged lengths without padding")
	}
}

func TestLongWordIsUnknown(t *testing.T) {
	tok := loadTest(t)
	tok.WithTruncation(nil)
	enc, err := tok.Encode(strings.Repeat("a", 101))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !reflect.DeepEqual(enc.IDs, []int64{2, 1, 3}) {
		t.Errorf("Expected single [UNK], got %v", enc.IDs)
	}
}

func TestFromFileErrors(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.json"))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected LoadError, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	bad := strings.Replace(testTokenizerJSON, `"type": "WordPiece"`, `"type": "BPE"`, 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = FromFile(path)
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) || unsupported.Type != "BPE" {
		t.Errorf("Expected UnsupportedError for BPE, got %v", err)
	}
}

func TestBertProcessing(t *testing.T) {
	src := strings.Replace(testTokenizerJSON,
		`"type": "TemplateProcessing",`,
		`"type": "BertProcessing", "cls": ["[CLS]", 2], "sep": ["[SEP]", 3],`, 1)
	tok, err := FromBytes([]byte(src))
	if err != nil {
		t.Fatalf("Failed to parse tokenizer: %v", err)
	}
	enc, err := tok.Encode("world")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !reflect.DeepEqual(enc.IDs, []int64{2, 5, 3}) {
		t.Errorf("Expected [2 5 3], got %v", enc.IDs)
	}
}

func TestFromVocab(t *testing.T) {
	tok, err := FromVocab([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello", "world"}, 0)
	if err != nil {
		t.Fatalf("FromVocab failed: %v", err)
	}
	enc, err := tok.Encode("Hello world")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !reflect.DeepEqual(enc.IDs, []int64{2, 4, 5, 3}) {
		t.Errorf("Expected [2 4 5 3], got %v", enc.IDs)
	}

	if _, err := FromVocab([]string{"hello"}, 0); err == nil {
		t.Error("Expected error for vocabulary without special tokens")
	}
}

func TestWhitespacePreTokenizeUnicode(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"hello, world!", []string{"hello", ",", "world", "!"}},
		{"café naïve", []string{"café", "naïve"}},
		{"東京タワー!?", []string{"東京タワー", "!?"}},
		{"snake_case 42x", []string{"snake_case", "42x"}},
		{"a\u00a0b", []string{"a", "b"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := whitespacePreTokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
