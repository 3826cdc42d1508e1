// Package toy provides a small BERT-style sequence classifier used as a
// reference host. Its module tree mirrors the usual encoder layout so target
// patterns such as "query" or `.*layer\.\d+` resolve the way they would on a
// real checkpoint:
//
//	embeddings.{word_embeddings,position_embeddings,LayerNorm}
//	encoder.layer.N.attention.self.{query,key,value}
//	encoder.layer.N.attention.output.{dense,LayerNorm}
//	encoder.layer.N.intermediate.dense
//	encoder.layer.N.output.{dense,LayerNorm}
//	pooler.dense
//	classifier
package toy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// Config sizes the model.
type Config struct {
	Vocab        int
	Hidden       int
	Layers       int
	Heads        int
	Intermediate int
	MaxPositions int
	Labels       int
	Seed         int64
}

// Small is a config cheap enough for unit tests.
func Small() Config {
	return Config{Vocab: 32, Hidden: 16, Layers: 2, Heads: 2, Intermediate: 32, MaxPositions: 16, Labels: 2, Seed: 1}
}

// Base mirrors a bert-base hidden width with a single layer.
func Base() Config {
	return Config{Vocab: 128, Hidden: 768, Layers: 1, Heads: 12, Intermediate: 3072, MaxPositions: 64, Labels: 2, Seed: 1}
}

func (c Config) validate() error {
	switch {
	case c.Vocab <= 0, c.Hidden <= 0, c.Layers <= 0, c.Intermediate <= 0, c.MaxPositions <= 0, c.Labels <= 0:
		return errors.New("toy: every dimension must be positive")
	case c.Heads <= 0 || c.Hidden%c.Heads != 0:
		return fmt.Errorf("toy: hidden %d not divisible by %d heads", c.Hidden, c.Heads)
	}
	return nil
}

const eps = 1e-12

// Model is the classifier root. Forward takes {ids, mask} where ids is a
// 1 x seq row of token ids and mask is an optional 1 x seq row of 1/0, and
// returns {logits} with logits shaped 1 x Labels.
type Model struct {
	cfg   Config
	slots []*nn.Slot
}

// New builds a model with weights drawn from N(0, 0.02²) seeded by cfg.Seed.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	linear := func(in, out int) *nn.Linear {
		l := nn.NewLinear(in, out, true)
		tensor.FillNormal(l.W, rng, 0.02)
		for i := range l.B {
			l.B[i] = float32(rng.NormFloat64() * 0.02)
		}
		return l
	}
	table := func(rows int) *nn.Embedding {
		e := &nn.Embedding{Table: tensor.NewMat(rows, cfg.Hidden)}
		tensor.FillNormal(e.Table, rng, 0.02)
		return e
	}

	emb := &Embeddings{slots: []*nn.Slot{
		nn.NewSlot("word_embeddings", table(cfg.Vocab)),
		nn.NewSlot("position_embeddings", table(cfg.MaxPositions)),
		nn.NewSlot("LayerNorm", nn.NewLayerNorm(cfg.Hidden, eps)),
	}}

	layers := make([]nn.Module, cfg.Layers)
	for i := range layers {
		self := &SelfAttention{heads: cfg.Heads, slots: []*nn.Slot{
			nn.NewSlot("query", linear(cfg.Hidden, cfg.Hidden)),
			nn.NewSlot("key", linear(cfg.Hidden, cfg.Hidden)),
			nn.NewSlot("value", linear(cfg.Hidden, cfg.Hidden)),
		}}
		attn := &Attention{slots: []*nn.Slot{
			nn.NewSlot("self", self),
			nn.NewSlot("output", newResidual(linear(cfg.Hidden, cfg.Hidden), cfg.Hidden)),
		}}
		inter := &Intermediate{slots: []*nn.Slot{nn.NewSlot("dense", linear(cfg.Hidden, cfg.Intermediate))}}
		layers[i] = &Layer{slots: []*nn.Slot{
			nn.NewSlot("attention", attn),
			nn.NewSlot("intermediate", inter),
			nn.NewSlot("output", newResidual(linear(cfg.Intermediate, cfg.Hidden), cfg.Hidden)),
		}}
	}

	m := &Model{cfg: cfg, slots: []*nn.Slot{
		nn.NewSlot("embeddings", emb),
		nn.NewSlot("encoder", &Encoder{slots: []*nn.Slot{nn.NewSlot("layer", nn.NewSequential(layers...))}}),
		nn.NewSlot("pooler", &Pooler{slots: []*nn.Slot{nn.NewSlot("dense", linear(cfg.Hidden, cfg.Hidden))}}),
		nn.NewSlot("classifier", linear(cfg.Hidden, cfg.Labels)),
	}}
	return m, nil
}

func (m *Model) Config() Config    { return m.cfg }
func (m *Model) Slots() []*nn.Slot { return m.slots }

// Inputs builds the forward tuple for ids with an all-ones mask.
func Inputs(ids ...int) nn.Args {
	row := tensor.NewMat(1, len(ids))
	mask := tensor.NewMat(1, len(ids))
	for i, id := range ids {
		row.Data[i] = float32(id)
		mask.Data[i] = 1
	}
	return nn.Args{row, mask}
}

func (m *Model) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	h, err := m.slots[0].Forward(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	enc, err := m.slots[1].Forward(ctx, nn.Args{h.At(0), args.At(1)})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	pooled, err := m.slots[2].Forward(ctx, nn.Args{enc.At(0)})
	if err != nil {
		return nil, fmt.Errorf("pooler: %w", err)
	}
	logits, err := m.slots[3].Forward(ctx, nn.Args{pooled.At(0)})
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return logits, nil
}

func (m *Model) Clone() nn.Module {
	return &Model{cfg: m.cfg, slots: cloneSlots(m.slots)}
}

func cloneSlots(slots []*nn.Slot) []*nn.Slot {
	out := make([]*nn.Slot, len(slots))
	for i, s := range slots {
		out[i] = nn.CloneSlot(s)
	}
	return out
}

// Embeddings sums word and position embeddings and normalises.
type Embeddings struct{ slots []*nn.Slot }

func (e *Embeddings) Slots() []*nn.Slot { return e.slots }
func (e *Embeddings) Clone() nn.Module  { return &Embeddings{slots: cloneSlots(e.slots)} }
func (e *Embeddings) InWidth() int      { return 0 }
func (e *Embeddings) OutWidth() int     { return nn.OutWidth(e.slots[2].Module()) }

func (e *Embeddings) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	ids := args.At(0)
	if ids == nil {
		return nil, errors.New("missing ids")
	}
	words, err := e.slots[0].Forward(ctx, nn.Args{ids})
	if err != nil {
		return nil, err
	}
	pos := tensor.NewMat(1, ids.C)
	for i := range pos.Data {
		pos.Data[i] = float32(i)
	}
	positions, err := e.slots[1].Forward(ctx, nn.Args{pos})
	if err != nil {
		return nil, err
	}
	sum := words[0].Clone()
	tensor.AddMat(sum, positions[0])
	return e.slots[2].Forward(ctx, nn.Args{sum})
}

// Encoder runs the layer stack, passing the mask to every layer.
type Encoder struct{ slots []*nn.Slot }

func (e *Encoder) Slots() []*nn.Slot { return e.slots }
func (e *Encoder) Clone() nn.Module  { return &Encoder{slots: cloneSlots(e.slots)} }
func (e *Encoder) InWidth() int      { return nn.InWidth(e.slots[0].Module()) }
func (e *Encoder) OutWidth() int     { return nn.OutWidth(e.slots[0].Module()) }

func (e *Encoder) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	seq, ok := nn.Base(e.slots[0].Module()).(nn.Container)
	if !ok {
		return nil, errors.New("encoder: layer stack is not a container")
	}
	h := args.At(0)
	for _, layer := range seq.Slots() {
		out, err := layer.Forward(ctx, nn.Args{h, args.At(1)})
		if err != nil {
			return nil, fmt.Errorf("layer.%s: %w", layer.Name(), err)
		}
		h = out.At(0)
	}
	return nn.Args{h}, nil
}

// Layer is one transformer block. Forward takes {hidden, mask}.
type Layer struct{ slots []*nn.Slot }

func (l *Layer) Slots() []*nn.Slot { return l.slots }
func (l *Layer) Clone() nn.Module  { return &Layer{slots: cloneSlots(l.slots)} }
func (l *Layer) InWidth() int      { return nn.InWidth(l.slots[0].Module()) }
func (l *Layer) OutWidth() int     { return nn.OutWidth(l.slots[2].Module()) }

func (l *Layer) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	attn, err := l.slots[0].Forward(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	inter, err := l.slots[1].Forward(ctx, attn)
	if err != nil {
		return nil, fmt.Errorf("intermediate: %w", err)
	}
	return l.slots[2].Forward(ctx, nn.Args{inter.At(0), attn.At(0)})
}

// Attention is self attention followed by its residual output block.
type Attention struct{ slots []*nn.Slot }

func (a *Attention) Slots() []*nn.Slot { return a.slots }
func (a *Attention) Clone() nn.Module  { return &Attention{slots: cloneSlots(a.slots)} }
func (a *Attention) InWidth() int      { return nn.InWidth(a.slots[0].Module()) }
func (a *Attention) OutWidth() int     { return nn.OutWidth(a.slots[1].Module()) }

func (a *Attention) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	ctxOut, err := a.slots[0].Forward(ctx, args)
	if err != nil {
		return nil, err
	}
	return a.slots[1].Forward(ctx, nn.Args{ctxOut.At(0), args.At(0)})
}

// SelfAttention is multi-head scaled dot-product attention. Mask entries of
// zero exclude the matching key position.
type SelfAttention struct {
	heads int
	slots []*nn.Slot
}

func (s *SelfAttention) Slots() []*nn.Slot { return s.slots }
func (s *SelfAttention) Clone() nn.Module {
	return &SelfAttention{heads: s.heads, slots: cloneSlots(s.slots)}
}

// The context keeps the hidden width of its input.
func (s *SelfAttention) InWidth() int  { return nn.InWidth(s.slots[0].Module()) }
func (s *SelfAttention) OutWidth() int { return s.InWidth() }

func (s *SelfAttention) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	h, mask := args.At(0), args.At(1)
	if h == nil {
		return nil, errors.New("missing hidden state")
	}
	if mask != nil && (mask.R != 1 || mask.C != h.R) {
		return nil, fmt.Errorf("mask %dx%d does not fit sequence of %d", mask.R, mask.C, h.R)
	}
	var qkv [3]*tensor.Mat
	for i := range qkv {
		out, err := s.slots[i].Forward(ctx, nn.Args{h})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.slots[i].Name(), err)
		}
		qkv[i] = out.At(0)
	}
	q, k, v := qkv[0], qkv[1], qkv[2]
	headDim := h.C / s.heads
	scale := float32(1 / math.Sqrt(float64(headDim)))
	out := tensor.NewMat(h.R, h.C)
	scores := make([]float32, h.R)
	for hd := 0; hd < s.heads; hd++ {
		lo, hi := hd*headDim, (hd+1)*headDim
		for i := 0; i < h.R; i++ {
			qi := q.Row(i)[lo:hi]
			for j := 0; j < h.R; j++ {
				scores[j] = tensor.Dot(qi, k.Row(j)[lo:hi]) * scale
				if mask != nil && mask.Data[j] == 0 {
					scores[j] = -1e4
				}
			}
			tensor.Softmax(scores)
			dst := out.Row(i)[lo:hi]
			for j, p := range scores {
				tensor.AddScaled(dst, v.Row(j)[lo:hi], p)
			}
		}
	}
	return nn.Args{out}, nil
}

// Residual computes LayerNorm(dense(x) + residual). Forward takes
// {x, residual}.
type Residual struct{ slots []*nn.Slot }

func newResidual(dense *nn.Linear, dim int) *Residual {
	return &Residual{slots: []*nn.Slot{
		nn.NewSlot("dense", dense),
		nn.NewSlot("LayerNorm", nn.NewLayerNorm(dim, eps)),
	}}
}

func (r *Residual) Slots() []*nn.Slot { return r.slots }
func (r *Residual) Clone() nn.Module  { return &Residual{slots: cloneSlots(r.slots)} }
func (r *Residual) InWidth() int      { return nn.InWidth(r.slots[0].Module()) }
func (r *Residual) OutWidth() int     { return nn.OutWidth(r.slots[1].Module()) }

func (r *Residual) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	res := args.At(1)
	if res == nil {
		return nil, errors.New("missing residual")
	}
	d, err := r.slots[0].Forward(ctx, nn.Args{args.At(0)})
	if err != nil {
		return nil, fmt.Errorf("dense: %w", err)
	}
	sum := d.At(0).Clone()
	if !tensor.SameShape(sum, res) {
		return nil, fmt.Errorf("residual %dx%d does not match %dx%d", res.R, res.C, sum.R, sum.C)
	}
	tensor.AddMat(sum, res)
	return r.slots[1].Forward(ctx, nn.Args{sum})
}

// Intermediate is the feed-forward expansion with GELU.
type Intermediate struct{ slots []*nn.Slot }

func (m *Intermediate) Slots() []*nn.Slot { return m.slots }
func (m *Intermediate) Clone() nn.Module  { return &Intermediate{slots: cloneSlots(m.slots)} }
func (m *Intermediate) InWidth() int      { return nn.InWidth(m.slots[0].Module()) }
func (m *Intermediate) OutWidth() int     { return nn.OutWidth(m.slots[0].Module()) }

func (m *Intermediate) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	out, err := m.slots[0].Forward(ctx, nn.Args{args.At(0)})
	if err != nil {
		return nil, fmt.Errorf("dense: %w", err)
	}
	h := out.At(0).Clone()
	tensor.Apply(h, tensor.Gelu)
	return nn.Args{h}, nil
}

// Pooler projects the first row of the sequence through dense and tanh.
type Pooler struct{ slots []*nn.Slot }

func (p *Pooler) Slots() []*nn.Slot { return p.slots }
func (p *Pooler) Clone() nn.Module  { return &Pooler{slots: cloneSlots(p.slots)} }
func (p *Pooler) InWidth() int      { return nn.InWidth(p.slots[0].Module()) }
func (p *Pooler) OutWidth() int     { return nn.OutWidth(p.slots[0].Module()) }

func (p *Pooler) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	h := args.At(0)
	if h == nil || h.R == 0 {
		return nil, errors.New("empty sequence")
	}
	out, err := p.slots[0].Forward(ctx, nn.Args{h.Rows(0, 1)})
	if err != nil {
		return nil, fmt.Errorf("dense: %w", err)
	}
	pooled := out.At(0).Clone()
	tensor.Apply(pooled, tensor.Tanh)
	return nn.Args{pooled}, nil
}
