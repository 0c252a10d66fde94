package models

import (
	"fmt"

	"github.com/raaihank/quackformers/internal/tensor"
)

// gluMLP is the gated feed-forward block: GELU(x W_g) * (x W_u), projected back
// and added to the residual.
type gluMLP struct {
	gated        linear
	wo           linear
	norm         layerNorm
	intermediate int
	act          HiddenAct
}

type jinaLayer struct {
	attention *selfAttention
	mlp       *gluMLP
}

func loadJinaLayer(s store, cfg Config) (*jinaLayer, error) {
	attn, err := loadAttention(s.pp("attention"), cfg)
	if err != nil {
		return nil, err
	}
	mlp := &gluMLP{intermediate: cfg.IntermediateSize, act: cfg.HiddenAct}
	ms := s.pp("mlp")
	if mlp.gated, err = ms.pp("gated_layers").linear(cfg.HiddenSize, 2*cfg.IntermediateSize, false); err != nil {
		return nil, err
	}
	if mlp.wo, err = ms.pp("wo").linear(cfg.IntermediateSize, cfg.HiddenSize, true); err != nil {
		return nil, err
	}
	if mlp.norm, err = ms.pp("layernorm").layerNorm(cfg.HiddenSize, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	return &jinaLayer{attention: attn, mlp: mlp}, nil
}

func (m *gluMLP) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	both, err := m.gated.forward(x)
	if err != nil {
		return nil, err
	}
	gated, err := both.Narrow(0, m.intermediate)
	if err != nil {
		return nil, err
	}
	nonGated, err := both.Narrow(m.intermediate, m.intermediate)
	if err != nil {
		return nil, err
	}
	activate(m.act, gated.Data())
	if err := gated.MulInPlace(nonGated); err != nil {
		return nil, err
	}
	out, err := m.wo.forward(gated)
	if err != nil {
		return nil, err
	}
	if err := out.AddInPlace(x); err != nil {
		return nil, err
	}
	if err := m.norm.forward(out); err != nil {
		return nil, err
	}
	return out, nil
}

// JinaBertModel is the Jina v2 encoder: BERT with ALiBi attention bias in
// place of position embeddings and a GLU feed-forward block.
type JinaBertModel struct {
	cfg        Config
	embeddings *embeddings
	layers     []*jinaLayer
	slopes     []float32
}

// NewJinaBertModel builds the encoder from src.
func NewJinaBertModel(src TensorSource, cfg Config) (*JinaBertModel, error) {
	cfg.PositionEmbeddingType = PositionAlibi
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := rootStore(src, cfg.ModelType)
	if err != nil {
		return nil, err
	}
	m := &JinaBertModel{cfg: cfg, slopes: alibiSlopes(cfg.NumAttentionHeads)}
	if m.embeddings, err = loadEmbeddings(root.pp("embeddings"), cfg); err != nil {
		return nil, err
	}
	enc := root.pp("encoder").pp("layer")
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		layer, err := loadJinaLayer(enc.pp(fmt.Sprint(i)), cfg)
		if err != nil {
			return nil, err
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

// Device reports the compute device.
func (m *JinaBertModel) Device() tensor.Device { return tensor.CPU }

// HiddenSize is the width of each output row.
func (m *JinaBertModel) HiddenSize() int { return m.cfg.HiddenSize }

// Config returns the architecture the model was built with.
func (m *JinaBertModel) Config() Config { return m.cfg }

// Forward returns hidden states of shape (batch, seq, hidden).
func (m *JinaBertModel) Forward(inputIDs, tokenTypeIDs, attentionMask *tensor.IntTensor) (*tensor.Tensor, error) {
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
		attn, err := layer.attention.forward(x, batch, seq, keyBias, m.slopes)
		if err != nil {
			return nil, err
		}
		if x, err = layer.mlp.forward(attn); err != nil {
			return nil, err
		}
	}
	return x.Reshape(batch, seq, m.cfg.HiddenSize)
}

// Close releases the model weights.
func (m *JinaBertModel) Close() error {
	m.layers = nil
	m.embeddings = nil
	return nil
}
