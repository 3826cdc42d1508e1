package nn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/graft/internal/tensor"
)

type passthrough struct{ inner Module }

func (p *passthrough) Forward(ctx context.Context, args Args) (Args, error) {
	return p.inner.Forward(ctx, args)
}
func (p *passthrough) Unwrap() Module { return p.inner }

type opaque struct{}

func (opaque) Forward(_ context.Context, args Args) (Args, error) { return args, nil }

func testTree() (*Sequential, *Linear) {
	lin := NewLinear(2, 2, true)
	act, _ := NewAct("relu")
	return NewSequential(NewSequential(lin), act), lin
}

func TestWalkOrderAndWrappers(t *testing.T) {
	t.Parallel()
	root, lin := testTree()
	require.Equal(t, []string{"0", "0.0", "1"}, Paths(root))

	outer, err := Lookup(root, "0")
	require.NoError(t, err)
	orig := outer.Swap(&passthrough{inner: outer.Module()})
	require.Equal(t, []string{"0", "0.0", "1"}, Paths(root), "wrappers add no path segment")
	require.Same(t, orig, Base(outer.Module()))

	inner, err := Lookup(root, "0.0")
	require.NoError(t, err)
	require.Same(t, lin, inner.Module())

	_, err = Lookup(root, "0.1")
	require.Error(t, err)

	var seen []string
	require.NoError(t, Walk(root, func(p string, _ *Slot) error {
		seen = append(seen, p)
		return ErrStop
	}))
	require.Equal(t, []string{"0"}, seen)

	boom := errors.New("boom")
	require.ErrorIs(t, Walk(root, func(string, *Slot) error { return boom }), boom)
}

func TestSlotNames(t *testing.T) {
	t.Parallel()
	require.Panics(t, func() { NewSlot("a.b", opaque{}) })
	s := NewSlot("a", opaque{})
	require.Equal(t, "a", s.Name())
}

func TestSlotForwardHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSlot("x", opaque{}).Forward(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	root, lin := testTree()
	tensor.Fill(lin.W, 1)

	c, err := Clone(root)
	require.NoError(t, err)
	lin.W.Data[0] = 5
	lin.B[0] = 5

	slot, err := Lookup(c, "0.0")
	require.NoError(t, err)
	cl := slot.Module().(*Linear)
	require.Equal(t, float32(1), cl.W.Data[0])
	require.Equal(t, float32(0), cl.B[0])

	_, err = Clone(opaque{})
	require.Error(t, err)
	require.Panics(t, func() { CloneSlot(NewSlot("o", opaque{})) })
}

func TestLayers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lin := NewLinear(2, 3, true)
	tensor.Fill(lin.W, 1)
	lin.B[2] = 1
	out, err := lin.Forward(ctx, Args{tensor.NewMatFromData(1, 2, []float32{1, 2})})
	require.NoError(t, err)
	require.Equal(t, []float32{3, 3, 4}, out.At(0).Data)
	_, err = lin.Forward(ctx, Args{tensor.NewMat(1, 3)})
	require.Error(t, err)
	_, err = lin.Forward(ctx, nil)
	require.Error(t, err)

	emb := &Embedding{Table: tensor.NewMatFromData(2, 2, []float32{1, 2, 3, 4})}
	out, err = emb.Forward(ctx, Args{tensor.NewMatFromData(1, 2, []float32{1, 0})})
	require.NoError(t, err)
	require.Equal(t, []float32{3, 4, 1, 2}, out.At(0).Data)
	_, err = emb.Forward(ctx, Args{tensor.NewMatFromData(1, 1, []float32{2})})
	require.Error(t, err)

	_, err = NewAct("nope")
	require.Error(t, err)

	require.Nil(t, Args{}.At(0))
	require.Nil(t, Args{nil}.At(-1))
}

func TestWidths(t *testing.T) {
	t.Parallel()

	seq := NewSequential(NewLinear(6, 4, false), NewLayerNorm(4, 1e-5), NewLinear(4, 3, true))
	require.Equal(t, 6, InWidth(seq))
	require.Equal(t, 3, OutWidth(seq))
	require.Equal(t, 0, InWidth(NewSequential()))

	emb := &Embedding{Table: tensor.NewMat(10, 5)}
	require.Equal(t, 0, InWidth(emb), "ids are not a hidden state")
	require.Equal(t, 5, OutWidth(emb))

	// wrappers report the wrapped module's widths
	w := &passthrough{inner: NewLinear(2, 7, false)}
	require.Equal(t, 2, InWidth(w))
	require.Equal(t, 7, OutWidth(w))

	require.Equal(t, 0, OutWidth(opaque{}))
}
