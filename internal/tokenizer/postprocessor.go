package tokenizer

import (
	"encoding/json"
	"fmt"
)

type templatePiece struct {
	special bool
	ids     []int64
	tokens  []string
	typeID  int64
}

// template wraps a single sequence with special tokens.
type template []templatePiece

func (t template) addedTokens() int {
	n := 0
	for _, p := range t {
		if p.special {
			n += len(p.ids)
		}
	}
	return n
}

func (t template) apply(ids []int64, toks []string) ([]int64, []string, []int64) {
	size := len(ids) + t.addedTokens()
	outIDs := make([]int64, 0, size)
	outToks := make([]string, 0, size)
	outTypes := make([]int64, 0, size)
	for _, p := range t {
		if p.special {
			outIDs = append(outIDs, p.ids...)
			outToks = append(outToks, p.tokens...)
			for range p.ids {
				outTypes = append(outTypes, p.typeID)
			}
			continue
		}
		outIDs = append(outIDs, ids...)
		outToks = append(outToks, toks...)
		for range ids {
			outTypes = append(outTypes, p.typeID)
		}
	}
	return outIDs, outToks, outTypes
}

type postProcessorConfig struct {
	Type          string                       `json:"type"`
	Single        []map[string]json.RawMessage `json:"single"`
	SpecialTokens map[string]struct {
		IDs    []int64  `json:"ids"`
		Tokens []string `json:"tokens"`
	} `json:"special_tokens"`
	Cls []json.RawMessage `json:"cls"`
	Sep []json.RawMessage `json:"sep"`
}

type templateEntry struct {
	ID     string `json:"id"`
	TypeID int64  `json:"type_id"`
}

func buildPostProcessor(raw json.RawMessage) (template, error) {
	if isNull(raw) {
		return template{{}}, nil
	}
	var cfg postProcessorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("post_processor: %w", err)
	}

	switch cfg.Type {
	case "TemplateProcessing":
		out := make(template, 0, len(cfg.Single))
		for _, piece := range cfg.Single {
			if msg, ok := piece["SpecialToken"]; ok {
				var e templateEntry
				if err := json.Unmarshal(msg, &e); err != nil {
					return nil, fmt.Errorf("post_processor: %w", err)
				}
				st, ok := cfg.SpecialTokens[e.ID]
				if !ok {
					return nil, fmt.Errorf("post_processor: special token %q not declared", e.ID)
				}
				out = append(out, templatePiece{special: true, ids: st.IDs, tokens: st.Tokens, typeID: e.TypeID})
				continue
			}
			if msg, ok := piece["Sequence"]; ok {
				var e templateEntry
				if err := json.Unmarshal(msg, &e); err != nil {
					return nil, fmt.Errorf("post_processor: %w", err)
				}
				out = append(out, templatePiece{typeID: e.TypeID})
			}
		}
		return out, nil
	case "BertProcessing":
		cls, err := tokenPair(cfg.Cls)
		if err != nil {
			return nil, err
		}
		sep, err := tokenPair(cfg.Sep)
		if err != nil {
			return nil, err
		}
		return template{cls, {}, sep}, nil
	default:
		return nil, &UnsupportedError{Component: "post_processor", Type: cfg.Type}
	}
}

// tokenPair decodes BertProcessing's ["[CLS]", 101] form.
func tokenPair(raw []json.RawMessage) (templatePiece, error) {
	if len(raw) != 2 {
		return templatePiece{}, fmt.Errorf("post_processor: expected [token, id] pair")
	}
	var tok string
	var id int64
	if err := json.Unmarshal(raw[0], &tok); err != nil {
		return templatePiece{}, fmt.Errorf("post_processor: %w", err)
	}
	if err := json.Unmarshal(raw[1], &id); err != nil {
		return templatePiece{}, fmt.Errorf("post_processor: %w", err)
	}
	return templatePiece{special: true, ids: []int64{id}, tokens: []string{tok}}, nil
}
