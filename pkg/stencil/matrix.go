package stencil

// Matrix is the stencil workspace: one X×Y×Z slab per outer iteration.
// Iteration 0 holds the generated input; iterations 1..I-1 are computed.
type Matrix struct {
	I, X, Y, Z int
	data       []int64
}

func NewMatrix(iterations, x, y, z int) *Matrix {
	if iterations < 2 || x < 1 || y < 1 || z < 1 {
		panic("stencil: matrix needs at least two iterations and positive dims")
	}
	return &Matrix{
		I:    iterations,
		X:    x,
		Y:    y,
		Z:    z,
		data: make([]int64, iterations*x*y*z),
	}
}

func (m *Matrix) idx(i, x, y, z int) int {
	return ((i*m.X+x)*m.Y+y)*m.Z + z
}

func (m *Matrix) At(i, x, y, z int) int64 {
	return m.data[m.idx(i, x, y, z)]
}

func (m *Matrix) Set(i, x, y, z int, v int64) {
	m.data[m.idx(i, x, y, z)] = v
}

// Generate fills iteration 0 with a deterministic pattern so independent
// runs are comparable.
func (m *Matrix) Generate() {
	for x := 0; x < m.X; x++ {
		for y := 0; y < m.Y; y++ {
			for z := 0; z < m.Z; z++ {
				m.Set(0, x, y, z, int64(x*7+y*3+z+1))
			}
		}
	}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := NewMatrix(m.I, m.X, m.Y, m.Z)
	copy(c.data, m.data)
	return c
}

// Equal reports element-wise equality.
func (m *Matrix) Equal(other *Matrix) bool {
	if m.I != other.I || m.X != other.X || m.Y != other.Y || m.Z != other.Z {
		return false
	}
	for i, v := range m.data {
		if other.data[i] != v {
			return false
		}
	}
	return true
}

// heatCell computes one cell of iteration i from the previous iteration and
// its already-computed neighbours in this one. The x-1 term is the
// loop-carried dependency that crosses worker boundaries.
func (m *Matrix) heatCell(i, x, y, z int) {
	v := m.At(i-1, x, y, z)
	if x > 0 {
		v += m.At(i, x-1, y, z)
	}
	if z > 0 {
		v += m.At(i, x, y, z-1)
	}
	m.Set(i, x, y, z, v/2)
}

// ComputeLine computes the y-line of iteration i over the x range [x0, x1).
func (m *Matrix) ComputeLine(i, y, x0, x1 int) {
	for x := x0; x < x1; x++ {
		for z := 0; z < m.Z; z++ {
			m.heatCell(i, x, y, z)
		}
	}
}

// ComputeIteration computes all of iteration i. The sequential reference.
func (m *Matrix) ComputeIteration(i int) {
	for y := 0; y < m.Y; y++ {
		m.ComputeLine(i, y, 0, m.X)
	}
}

// Reference computes the expected matrix sequentially from the same input.
func (m *Matrix) Reference() *Matrix {
	ref := m.Clone()
	for i := range ref.data[m.X*m.Y*m.Z:] {
		ref.data[m.X*m.Y*m.Z+i] = 0
	}
	for i := 1; i < ref.I; i++ {
		ref.ComputeIteration(i)
	}
	return ref
}
