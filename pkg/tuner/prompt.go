package tuner

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// PromptConfig prepends learned prompt rows to the hidden state entering each
// target. The first target in document order inserts the rows; later targets
// overwrite them, so the sequence grows by PromptLength exactly once.
type PromptConfig struct {
	Dim           int     `json:"dim" yaml:"dim"`
	TargetModules Pattern `json:"target_modules" yaml:"target_modules"`
	// PromptLength is the number of prompt rows. Zero means 16.
	PromptLength int `json:"prompt_length,omitempty" yaml:"prompt_length,omitempty"`
	EmbeddingPos int `json:"embedding_pos" yaml:"embedding_pos"`
	// AttentionMaskPos, when set, is the argument holding a mask whose
	// columns are extended by PromptLength.
	AttentionMaskPos *int `json:"attention_mask_pos,omitempty" yaml:"attention_mask_pos,omitempty"`
	// AttentionMaskValue fills the new mask columns. Nil means 1.
	AttentionMaskValue *float32 `json:"attention_mask_value,omitempty" yaml:"attention_mask_value,omitempty"`
	// ExtractEmbedding strips the prompt rows from the last target's output.
	ExtractEmbedding bool   `json:"extract_embedding,omitempty" yaml:"extract_embedding,omitempty"`
	Init             string `json:"init,omitempty" yaml:"init,omitempty"`
	Seed             int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func (c *PromptConfig) Kind() Kind { return KindPrompt }

func (c *PromptConfig) Targets() []Target {
	return []Target{{Label: "target_modules", Pattern: c.TargetModules, Role: HiddenRole(c.EmbeddingPos)}}
}

func (c *PromptConfig) length() int {
	if c.PromptLength == 0 {
		return 16
	}
	return c.PromptLength
}

func (c *PromptConfig) maskValue() float32 {
	if c.AttentionMaskValue == nil {
		return 1
	}
	return *c.AttentionMaskValue
}

func (c *PromptConfig) withDefaults() Config {
	d := *c
	d.PromptLength = c.length()
	v := c.maskValue()
	d.AttentionMaskValue = &v
	d.Init = initName(c.Init)
	return &d
}

func (c *PromptConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.PromptLength < 0 {
		return fmt.Errorf("prompt_length must be positive, got %d", c.PromptLength)
	}
	if c.EmbeddingPos < 0 {
		return fmt.Errorf("embedding_pos must be non-negative, got %d", c.EmbeddingPos)
	}
	if c.AttentionMaskPos != nil && (*c.AttentionMaskPos < 0 || *c.AttentionMaskPos == c.EmbeddingPos) {
		return fmt.Errorf("attention_mask_pos %d is invalid", *c.AttentionMaskPos)
	}
	if err := validateTarget("target_modules", c.TargetModules); err != nil {
		return err
	}
	return checkInit(KindPrompt, c.Init)
}

func (c *PromptConfig) Build(adapter string, sw *Switch, pt Point) (Tuner, error) {
	if err := pt.checkWidth(true, c.EmbeddingPos, c.Dim, "dim"); err != nil {
		return nil, err
	}
	t := &Prompt{
		base:      newBase(KindPrompt, adapter, sw, pt),
		Tokens:    tensor.NewMat(c.length(), c.Dim),
		pos:       c.EmbeddingPos,
		maskPos:   -1,
		maskValue: c.maskValue(),
		first:     pt.Ordinal == 0,
		extract:   c.ExtractEmbedding && pt.Ordinal == pt.Count-1,
	}
	if c.AttentionMaskPos != nil {
		t.maskPos = *c.AttentionMaskPos
	}
	if err := initialise(t, c.Init, c.Seed); err != nil {
		return nil, err
	}
	return t, nil
}

// Prompt is the prompt tuner at one target.
type Prompt struct {
	base
	Tokens    *tensor.Mat // [prompt_length x dim]
	pos       int
	maskPos   int
	maskValue float32
	first     bool
	extract   bool
}

func (t *Prompt) Params() []Param { return []Param{{Name: "prompt", Value: t.Tokens}} }

func (t *Prompt) Before(_ context.Context, in nn.Args) (nn.Args, error) {
	h, err := hidden(in, t.pos, "embedding")
	if err != nil {
		return nil, err
	}
	if h.C != t.Tokens.C {
		return nil, fmt.Errorf("prompt: hidden width %d, want %d", h.C, t.Tokens.C)
	}
	p := t.Tokens.R
	var next *tensor.Mat
	if t.first {
		next = tensor.ConcatRows(t.Tokens, h)
	} else {
		if h.R < p {
			return nil, fmt.Errorf("prompt: sequence of %d rows has no prompt prefix of %d", h.R, p)
		}
		next = tensor.ConcatRows(t.Tokens, h.Rows(p, h.R))
	}
	out := replace(in, t.pos, next)
	if t.maskPos >= 0 {
		if m := in.At(t.maskPos); m != nil {
			pad := tensor.NewMat(m.R, p)
			tensor.Fill(pad, t.maskValue)
			out = replace(out, t.maskPos, tensor.ConcatCols(pad, m))
		}
	}
	return out, nil
}

func (t *Prompt) After(_ context.Context, _, out nn.Args) (nn.Args, error) {
	if !t.extract {
		return out, nil
	}
	h, err := hidden(out, 0, "output")
	if err != nil {
		return nil, err
	}
	p := t.Tokens.R
	if h.R < p {
		return nil, fmt.Errorf("prompt: output of %d rows has no prompt prefix of %d", h.R, p)
	}
	return replace(out, 0, h.Rows(p, h.R)), nil
}

func init() {
	Register(KindInfo{Kind: KindPrompt, New: func() Config { return &PromptConfig{} }})

	RegisterInit(KindPrompt, DefaultInit, func(tn Tuner, rng *rand.Rand) error {
		tensor.FillNormal(tn.(*Prompt).Tokens, rng, 0.02)
		return nil
	})
}
