package tokenizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type normalizer interface {
	normalize(s string) string
}

type normalizerFunc func(string) string

func (f normalizerFunc) normalize(s string) string { return f(s) }

type bertNormalizer struct {
	cleanText          bool
	handleChineseChars bool
	stripAccents       bool
	lowercase          bool
}

func (n bertNormalizer) normalize(s string) string {
	if n.cleanText {
		s = cleanText(s)
	}
	if n.handleChineseChars {
		s = padChineseChars(s)
	}
	if n.stripAccents {
		s = stripAccents(s)
	}
	if n.lowercase {
		s = strings.ToLower(s)
	}
	return s
}

func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0 || r == unicode.ReplacementChar || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func padChineseChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isChinese(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

func stripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.IsSpace(r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co)
}

func isChinese(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B920 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

type normalizerSequence []normalizer

func (seq normalizerSequence) normalize(s string) string {
	for _, n := range seq {
		s = n.normalize(s)
	}
	return s
}

type normalizerConfig struct {
	Type               string            `json:"type"`
	CleanText          *bool             `json:"clean_text"`
	HandleChineseChars *bool             `json:"handle_chinese_chars"`
	StripAccents       *bool             `json:"strip_accents"`
	Lowercase          *bool             `json:"lowercase"`
	Normalizers        []json.RawMessage `json:"normalizers"`
}

func buildNormalizer(raw json.RawMessage) (normalizer, error) {
	if isNull(raw) {
		return nil, nil
	}
	var cfg normalizerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	switch cfg.Type {
	case "BertNormalizer":
		n := bertNormalizer{
			cleanText:          boolOr(cfg.CleanText, true),
			handleChineseChars: boolOr(cfg.HandleChineseChars, true),
			lowercase:          boolOr(cfg.Lowercase, true),
		}
		// Accents follow lowercase unless set explicitly.
		n.stripAccents = boolOr(cfg.StripAccents, n.lowercase)
		return n, nil
	case "Lowercase":
		return normalizerFunc(strings.ToLower), nil
	case "NFD":
		return normalizerFunc(norm.NFD.String), nil
	case "NFC":
		return normalizerFunc(norm.NFC.String), nil
	case "NFKD":
		return normalizerFunc(norm.NFKD.String), nil
	case "NFKC":
		return normalizerFunc(norm.NFKC.String), nil
	case "StripAccents":
		return normalizerFunc(func(s string) string {
			out, _, err := transform.String(runes.Remove(runes.In(unicode.Mn)), s)
			if err != nil {
				return s
			}
			return out
		}), nil
	case "Sequence":
		seq := make(normalizerSequence, 0, len(cfg.Normalizers))
		for _, child := range cfg.Normalizers {
			n, err := buildNormalizer(child)
			if err != nil {
				return nil, err
			}
			if n != nil {
				seq = append(seq, n)
			}
		}
		return seq, nil
	default:
		return nil, &UnsupportedError{Component: "normalizer", Type: cfg.Type}
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
