package tensor

// MatVec computes dst = w * x where w is a matrix and x is a vector.
// dst must have length w.R and x must have length w.C.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R {
		panic("matvec dst too small")
	}
	if len(x) < w.C {
		panic("matvec x too small")
	}
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x[:w.C])
	}
}
