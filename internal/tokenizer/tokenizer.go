// Package tokenizer loads HuggingFace tokenizer.json files describing a
// WordPiece vocabulary and turns text batches into padded id matrices.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// PaddingStrategy selects the padded length of a batch.
type PaddingStrategy int

const (
	// BatchLongest pads every sequence to the longest one in the batch.
	BatchLongest PaddingStrategy = iota
	// Fixed pads every sequence to PaddingParams.FixedLength.
	Fixed
)

// Direction is the side that padding or truncation acts on.
type Direction string

const (
	Right Direction = "Right"
	Left  Direction = "Left"
)

// PaddingParams mirrors the padding block of tokenizer.json.
type PaddingParams struct {
	Strategy        PaddingStrategy
	FixedLength     int
	Direction       Direction
	PadToMultipleOf int
	PadID           int64
	PadTypeID       int64
	PadToken        string
}

// TruncationParams mirrors the truncation block of tokenizer.json.
// MaxLength counts special tokens.
type TruncationParams struct {
	MaxLength int
	Direction Direction
}

// Encoding is one tokenized sequence.
type Encoding struct {
	IDs           []int64
	TypeIDs       []int64
	AttentionMask []int64
	Tokens        []string
}

// Len is the number of positions including padding.
func (e *Encoding) Len() int { return len(e.IDs) }

type addedToken struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	Special    bool   `json:"special"`
	Normalized bool   `json:"normalized"`
}

// Tokenizer encodes text. It is not safe for concurrent mutation of its
// padding or truncation settings; encoding itself only reads state.
type Tokenizer struct {
	normalizer   normalizer
	preTokenizer preTokenizer
	model        *wordPiece
	template     template
	added        []addedToken
	padding      *PaddingParams
	truncation   *TruncationParams
}

type fileConfig struct {
	Truncation    json.RawMessage `json:"truncation"`
	Padding       json.RawMessage `json:"padding"`
	AddedTokens   []addedToken    `json:"added_tokens"`
	Normalizer    json.RawMessage `json:"normalizer"`
	PreTokenizer  json.RawMessage `json:"pre_tokenizer"`
	PostProcessor json.RawMessage `json:"post_processor"`
	Model         json.RawMessage `json:"model"`
}

// FromFile loads a tokenizer.json file.
func FromFile(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	tok, err := FromBytes(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return tok, nil
}

// FromBytes parses tokenizer.json content.
func FromBytes(data []byte) (*Tokenizer, error) {
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid tokenizer json: %w", err)
	}

	t := &Tokenizer{}
	var err error
	if t.normalizer, err = buildNormalizer(cfg.Normalizer); err != nil {
		return nil, err
	}
	if t.preTokenizer, err = buildPreTokenizer(cfg.PreTokenizer); err != nil {
		return nil, err
	}
	if t.model, err = buildModel(cfg.Model); err != nil {
		return nil, err
	}
	if t.template, err = buildPostProcessor(cfg.PostProcessor); err != nil {
		return nil, err
	}
	if t.padding, err = parsePadding(cfg.Padding); err != nil {
		return nil, err
	}
	if t.truncation, err = parseTruncation(cfg.Truncation); err != nil {
		return nil, err
	}

	for _, at := range cfg.AddedTokens {
		if at.Content != "" && !at.Normalized {
			t.added = append(t.added, at)
		}
	}
	// Longest first so overlapping tokens match greedily.
	sort.SliceStable(t.added, func(i, j int) bool { return len(t.added[i].Content) > len(t.added[j].Content) })
	return t, nil
}

// Padding returns the live padding settings, or nil when padding is off.
// Mutating the returned value changes how later batches are padded.
func (t *Tokenizer) Padding() *PaddingParams { return t.padding }

// WithPadding replaces the padding settings. Nil disables padding.
func (t *Tokenizer) WithPadding(p *PaddingParams) *Tokenizer {
	t.padding = p
	return t
}

// Truncation returns the live truncation settings, or nil.
func (t *Tokenizer) Truncation() *TruncationParams { return t.truncation }

// WithTruncation replaces the truncation settings. Nil disables truncation.
func (t *Tokenizer) WithTruncation(p *TruncationParams) *Tokenizer {
	t.truncation = p
	return t
}

// TokenToID looks up a vocabulary entry.
func (t *Tokenizer) TokenToID(token string) (int64, bool) {
	id, ok := t.model.vocab[token]
	return id, ok
}

// Encode tokenizes one text with special tokens and truncation, without padding.
func (t *Tokenizer) Encode(text string) (*Encoding, error) {
	var ids []int64
	var toks []string
	for _, seg := range t.splitAdded(text) {
		if seg.added != nil {
			ids = append(ids, seg.added.ID)
			toks = append(toks, seg.added.Content)
			continue
		}
		s := seg.text
		if t.normalizer != nil {
			s = t.normalizer.normalize(s)
		}
		words := []string{s}
		if t.preTokenizer != nil {
			words = t.preTokenizer.split(s)
		}
		for _, w := range words {
			if w == "" {
				continue
			}
			wi, wt := t.model.tokenize(w)
			ids = append(ids, wi...)
			toks = append(toks, wt...)
		}
	}

	if t.truncation != nil {
		budget := t.truncation.MaxLength - t.template.addedTokens()
		if budget < 0 {
			return nil, &TruncationError{MaxLength: t.truncation.MaxLength, Special: t.template.addedTokens()}
		}
		if len(ids) > budget {
			if t.truncation.Direction == Left {
				ids, toks = ids[len(ids)-budget:], toks[len(toks)-budget:]
			} else {
				ids, toks = ids[:budget], toks[:budget]
			}
		}
	}

	outIDs, outToks, types := t.template.apply(ids, toks)
	mask := make([]int64, len(outIDs))
	for i := range mask {
		mask[i] = 1
	}
	return &Encoding{IDs: outIDs, TypeIDs: types, AttentionMask: mask, Tokens: outToks}, nil
}

// EncodeBatch encodes every text and pads the batch per the padding settings.
func (t *Tokenizer) EncodeBatch(texts []string) ([]*Encoding, error) {
	encs := make([]*Encoding, len(texts))
	for i, text := range texts {
		enc, err := t.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("encode input %d: %w", i, err)
		}
		encs[i] = enc
	}
	if t.padding != nil {
		t.pad(encs)
	}
	return encs, nil
}

func (t *Tokenizer) pad(encs []*Encoding) {
	p := t.padding
	target := p.FixedLength
	if p.Strategy == BatchLongest {
		target = 0
		for _, e := range encs {
			if e.Len() > target {
				target = e.Len()
			}
		}
	}
	if m := p.PadToMultipleOf; m > 0 && target%m != 0 {
		target += m - target%m
	}

	for _, e := range encs {
		n := target - e.Len()
		if n <= 0 {
			continue
		}
		ids := repeat(p.PadID, n)
		types := repeat(p.PadTypeID, n)
		mask := make([]int64, n)
		toks := make([]string, n)
		for i := range toks {
			toks[i] = p.PadToken
		}
		if p.Direction == Left {
			e.IDs = append(ids, e.IDs...)
			e.TypeIDs = append(types, e.TypeIDs...)
			e.AttentionMask = append(mask, e.AttentionMask...)
			e.Tokens = append(toks, e.Tokens...)
			continue
		}
		e.IDs = append(e.IDs, ids...)
		e.TypeIDs = append(e.TypeIDs, types...)
		e.AttentionMask = append(e.AttentionMask, mask...)
		e.Tokens = append(e.Tokens, toks...)
	}
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type segment struct {
	text  string
	added *addedToken
}

// splitAdded isolates added tokens that appear verbatim in the raw text.
func (t *Tokenizer) splitAdded(text string) []segment {
	if len(t.added) == 0 {
		return []segment{{text: text}}
	}
	var segs []segment
	rest := text
	for rest != "" {
		best, at := -1, -1
		for i := range t.added {
			idx := strings.Index(rest, t.added[i].Content)
			if idx >= 0 && (at < 0 || idx < at) {
				best, at = i, idx
			}
		}
		if best < 0 {
			segs = append(segs, segment{text: rest})
			break
		}
		if at > 0 {
			segs = append(segs, segment{text: rest[:at]})
		}
		segs = append(segs, segment{added: &t.added[best]})
		rest = rest[at+len(t.added[best].Content):]
	}
	return segs
}

type paddingConfig struct {
	Strategy        json.RawMessage `json:"strategy"`
	Direction       Direction       `json:"direction"`
	PadToMultipleOf *int            `json:"pad_to_multiple_of"`
	PadID           int64           `json:"pad_id"`
	PadTypeID       int64           `json:"pad_type_id"`
	PadToken        string          `json:"pad_token"`
}

func parsePadding(raw json.RawMessage) (*PaddingParams, error) {
	if isNull(raw) {
		return nil, nil
	}
	var cfg paddingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("padding: %w", err)
	}
	p := &PaddingParams{
		Strategy:  BatchLongest,
		Direction: Right,
		PadID:     cfg.PadID,
		PadTypeID: cfg.PadTypeID,
		PadToken:  cfg.PadToken,
	}
	if cfg.Direction == Left {
		p.Direction = Left
	}
	if cfg.PadToMultipleOf != nil {
		p.PadToMultipleOf = *cfg.PadToMultipleOf
	}
	if p.PadToken == "" {
		p.PadToken = "[PAD]"
	}

	// strategy is either "BatchLongest" or {"Fixed": n}.
	var name string
	if err := json.Unmarshal(cfg.Strategy, &name); err == nil {
		if name != "BatchLongest" {
			return nil, &UnsupportedError{Component: "padding strategy", Type: name}
		}
		return p, nil
	}
	var fixed struct {
		Fixed *int `json:"Fixed"`
	}
	if err := json.Unmarshal(cfg.Strategy, &fixed); err != nil || fixed.Fixed == nil {
		return nil, fmt.Errorf("padding: unrecognized strategy %s", string(cfg.Strategy))
	}
	p.Strategy = Fixed
	p.FixedLength = *fixed.Fixed
	return p, nil
}

type truncationConfig struct {
	MaxLength int       `json:"max_length"`
	Direction Direction `json:"direction"`
}

func parseTruncation(raw json.RawMessage) (*TruncationParams, error) {
	if isNull(raw) {
		return nil, nil
	}
	var cfg truncationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("truncation: %w", err)
	}
	p := &TruncationParams{MaxLength: cfg.MaxLength, Direction: Right}
	if cfg.Direction == Left {
		p.Direction = Left
	}
	return p, nil
}
