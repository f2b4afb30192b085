package gp

import "gonum.org/v1/gonum/mat"

// MatrixPool provides a pool of reusable matrices to reduce allocations
// across repeated likelihood evaluations.
type MatrixPool struct {
	symPools []*mat.SymDense
	vecPools []*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		symPools: make([]*mat.SymDense, 0, 10),
		vecPools: make([]*mat.VecDense, 0, 10),
	}
}

// GetSymDense returns an n-by-n symmetric matrix from the pool or creates
// a new one. Pooled matrices of a different size are not reused.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	for i := len(p.symPools) - 1; i >= 0; i-- {
		m := p.symPools[i]
		if m.SymmetricDim() == n {
			p.symPools = append(p.symPools[:i], p.symPools[i+1:]...)
			return m
		}
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool.
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	p.symPools = append(p.symPools, m)
}

// GetVecDense returns a length-n vector from the pool or creates a new
// one.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	for i := len(p.vecPools) - 1; i >= 0; i-- {
		v := p.vecPools[i]
		if v.Len() == n {
			p.vecPools = append(p.vecPools[:i], p.vecPools[i+1:]...)
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	p.vecPools = append(p.vecPools, v)
}
