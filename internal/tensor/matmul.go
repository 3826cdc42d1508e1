package tensor

// Linear computes dst = x·wᵀ (+ bias) for a weight laid out [out x in],
// matching how projection weights are stored on disk. bias may be nil.
// dst must be [x.R x w.R].
//
// The accumulation order is fixed per output element, so repeated calls on
// identical inputs give bit-identical results.
func Linear(dst, x, w *Mat, bias []float32) {
	if x.C != w.C {
		panic("inner dimension mismatch in Linear")
	}
	if dst.R != x.R || dst.C != w.R {
		panic("destination shape mismatch in Linear")
	}
	if bias != nil && len(bias) != w.R {
		panic("bias length mismatch in Linear")
	}
	for i := 0; i < x.R; i++ {
		xr := x.Row(i)
		dr := dst.Row(i)
		for j := 0; j < w.R; j++ {
			s := Dot(xr, w.Row(j))
			if bias != nil {
				s += bias[j]
			}
			dr[j] = s
		}
	}
}

// MatMul computes dst = a·b for row-major a [m x k] and b [k x n].
func MatMul(dst, a, b *Mat) {
	if a.C != b.R {
		panic("inner dimension mismatch in MatMul")
	}
	if dst.R != a.R || dst.C != b.C {
		panic("destination shape mismatch in MatMul")
	}
	for i := 0; i < a.R; i++ {
		dr := dst.Row(i)
		for j := range dr {
			dr[j] = 0
		}
		ar := a.Row(i)
		for k, av := range ar {
			if av == 0 {
				continue
			}
			AddScaled(dr, b.Row(k), av)
		}
	}
}

// Project is a convenience wrapper allocating the output of Linear.
func Project(x, w *Mat, bias []float32) *Mat {
	out := NewMat(x.R, w.R)
	Linear(out, x, w, bias)
	return out
}
