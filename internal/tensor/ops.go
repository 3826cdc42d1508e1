package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// AddScaled computes dst[i] += alpha * src[i].
func AddScaled(dst, src []float32, alpha float32) {
	for i := range dst {
		dst[i] += alpha * src[i]
	}
}

// AddMat adds b into a in place. Shapes must match.
func AddMat(a, b *Mat) {
	if !SameShape(a, b) {
		panic("shape mismatch in AddMat")
	}
	for i := 0; i < a.R; i++ {
		Add(a.Row(i), b.Row(i))
	}
}

// Scale multiplies every element of m by s.
func Scale(m *Mat, s float32) {
	for i := range m.Data {
		m.Data[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalises src to zero mean and unit variance, then applies the
// affine weight and bias.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= float32(len(src))
	var variance float32
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(src))
	inv := float32(1.0 / math.Sqrt(float64(variance+eps)))
	for i := range src {
		dst[i] = (src[i]-mean)*inv*weight[i] + bias[i]
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Gelu is the tanh approximation of the Gaussian error linear unit.
func Gelu(x float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(c*(xf+0.044715*xf*xf*xf))))
}

// Relu clamps negatives to zero.
func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Tanh is float32 tanh.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Apply maps fn over every element of m in place.
func Apply(m *Mat, fn func(float32) float32) {
	for i := range m.Data {
		m.Data[i] = fn(m.Data[i])
	}
}

// Activation resolves an activation name. Unknown names report false.
func Activation(name string) (func(float32) float32, bool) {
	switch name {
	case "gelu", "":
		return Gelu, true
	case "relu":
		return Relu, true
	case "silu", "swish":
		return Silu, true
	case "tanh":
		return Tanh, true
	case "sigmoid":
		return Sigmoid, true
	case "identity", "linear":
		return func(x float32) float32 { return x }, true
	default:
		return nil, false
	}
}
