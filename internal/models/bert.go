package models

import (
	"fmt"

	"github.com/raaihank/quackformers/internal/tensor"
)

type embeddings struct {
	word     *tensor.Tensor
	position *tensor.Tensor // nil for ALiBi models
	tokenTy  *tensor.Tensor
	norm     layerNorm
}

func loadEmbeddings(s store, cfg Config) (*embeddings, error) {
	h := cfg.HiddenSize
	e := &embeddings{}
	var err error
	if e.word, err = s.pp("word_embeddings").get("weight", cfg.VocabSize, h); err != nil {
		return nil, err
	}
	if cfg.PositionEmbeddingType != PositionAlibi {
		if e.position, err = s.pp("position_embeddings").get("weight", cfg.MaxPositionEmbeddings, h); err != nil {
			return nil, err
		}
	}
	if e.tokenTy, err = s.pp("token_type_embeddings").get("weight", cfg.TypeVocabSize, h); err != nil {
		return nil, err
	}
	if e.norm, err = s.pp("LayerNorm").layerNorm(h, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *embeddings) forward(ids, types *tensor.IntTensor) *tensor.Tensor {
	batch, seq := ids.Shape()
	out := tensor.Zeros(batch*seq, e.word.Dim(1))
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			row := out.Row(b*seq + s)
			copy(row, e.word.Row(int(ids.At(b, s))))
			addTo(row, e.tokenTy.Row(int(types.At(b, s))))
			if e.position != nil {
				addTo(row, e.position.Row(s))
			}
		}
	}
	return out
}

func addTo(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

type bertLayer struct {
	attention    *selfAttention
	intermediate linear
	output       linear
	norm         layerNorm
	act          HiddenAct
}

func loadBertLayer(s store, cfg Config) (*bertLayer, error) {
	l := &bertLayer{act: cfg.HiddenAct}
	var err error
	if l.attention, err = loadAttention(s.pp("attention"), cfg); err != nil {
		return nil, err
	}
	if l.intermediate, err = s.pp("intermediate").pp("dense").linear(cfg.HiddenSize, cfg.IntermediateSize, true); err != nil {
		return nil, err
	}
	if l.output, err = s.pp("output").pp("dense").linear(cfg.IntermediateSize, cfg.HiddenSize, true); err != nil {
		return nil, err
	}
	if l.norm, err = s.pp("output").pp("LayerNorm").layerNorm(cfg.HiddenSize, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *bertLayer) forward(x *tensor.Tensor, batch, seq int, keyBias []float32) (*tensor.Tensor, error) {
	attn, err := l.attention.forward(x, batch, seq, keyBias, nil)
	if err != nil {
		return nil, err
	}
	inter, err := l.intermediate.forward(attn)
	if err != nil {
		return nil, err
	}
	activate(l.act, inter.Data())
	out, err := l.output.forward(inter)
	if err != nil {
		return nil, err
	}
	if err := out.AddInPlace(attn); err != nil {
		return nil, err
	}
	if err := l.norm.forward(out); err != nil {
		return nil, err
	}
	return out, nil
}

// BertModel is a BERT encoder with absolute position embeddings.
type BertModel struct {
	cfg        Config
	embeddings *embeddings
	layers     []*bertLayer
}

// NewBertModel builds the encoder from src.
func NewBertModel(src TensorSource, cfg Config) (*BertModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := rootStore(src, cfg.ModelType)
	if err != nil {
		return nil, err
	}
	m := &BertModel{cfg: cfg}
	if m.embeddings, err = loadEmbeddings(root.pp("embeddings"), cfg); err != nil {
		return nil, err
	}
	enc := root.pp("encoder").pp("layer")
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		layer, err := loadBertLayer(enc.pp(fmt.Sprint(i)), cfg)
		if err != nil {
			return nil, err
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

// Device reports the compute device.
func (m *BertModel) Device() tensor.Device { return tensor.CPU }

// HiddenSize is the width of each output row.
func (m *BertModel) HiddenSize() int { return m.cfg.HiddenSize }

// Config returns the architecture the model was built with.
func (m *BertModel) Config() Config { return m.cfg }

// Forward returns hidden states of shape (batch, seq, hidden).
func (m *BertModel) Forward(inputIDs, tokenTypeIDs, attentionMask *tensor.IntTensor) (*tensor.Tensor, error) {
	if err := checkInputs(m.cfg, inputIDs, tokenTypeIDs, attentionMask, true); err != nil {
		return nil, err
	}
	batch, seq := inputIDs.Shape()
	if batch == 0 || seq == 0 {
		return tensor.Zeros(batch, seq, m.cfg.HiddenSize), nil
	}

	x := m.embeddings.forward(inputIDs, tokenTypeIDs)
	if err := m.embeddings.norm.forward(x); err != nil {
		return nil, err
	}
	keyBias := maskBias(attentionMask)
	for _, layer := range m.layers {
		var err error
		if x, err = layer.forward(x, batch, seq, keyBias); err != nil {
			return nil, err
		}
	}
	return x.Reshape(batch, seq, m.cfg.HiddenSize)
}

// Close releases the model weights.
func (m *BertModel) Close() error {
	m.layers = nil
	m.embeddings = nil
	return nil
}

func maskBias(mask *tensor.IntTensor) []float32 {
	out := make([]float32, len(mask.Data()))
	for i, v := range mask.Data() {
		if v == 0 {
			out[i] = maskedScore
		}
	}
	return out
}

// checkInputs validates ids against the vocabulary and table sizes.
func checkInputs(cfg Config, ids, types, mask *tensor.IntTensor, positional bool) error {
	if !tensor.SameShape(ids, types) || !tensor.SameShape(ids, mask) {
		r, c := ids.Shape()
		tr, tc := types.Shape()
		return &tensor.ShapeError{Op: "forward", Want: []int{r, c}, Got: []int{tr, tc}}
	}
	_, seq := ids.Shape()
	if positional && seq > cfg.MaxPositionEmbeddings {
		return fmt.Errorf("sequence length %d exceeds max_position_embeddings %d", seq, cfg.MaxPositionEmbeddings)
	}
	for _, id := range ids.Data() {
		if id < 0 || id >= int64(cfg.VocabSize) {
			return fmt.Errorf("token id %d outside vocabulary of %d", id, cfg.VocabSize)
		}
	}
	for _, id := range types.Data() {
		if id < 0 || id >= int64(cfg.TypeVocabSize) {
			return fmt.Errorf("token type id %d outside type vocabulary of %d", id, cfg.TypeVocabSize)
		}
	}
	return nil
}
