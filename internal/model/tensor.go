// Package model defines the collaborator contracts the fitting loops drive:
// dense tensors, named trainable parameters with gradient accumulators, and
// the Module interface a marginal-log-likelihood objective implements.
package model

import "fmt"

// Dtype identifies the numeric element kind of a tensor's native storage.
type Dtype int

const (
	// Float64 is double-precision native storage.
	Float64 Dtype = iota
	// Float32 is single-precision native storage. Values are still held in
	// double precision internally; writes are narrowed through float32 so
	// the stored values match what single-precision storage would hold.
	Float32
)

// String returns the dtype name.
func (d Dtype) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("Dtype(%d)", int(d))
	}
}

// cast narrows v through the dtype's native element kind.
func (d Dtype) cast(v float64) float64 {
	if d == Float32 {
		return float64(float32(v))
	}
	return v
}

// Tensor is a dense, row-major numeric array with a shape, an element kind
// and an opaque device tag. Values are always held as float64; the dtype
// controls the narrowing applied when values are written.
type Tensor struct {
	data   []float64
	shape  []int
	dtype  Dtype
	device string
}

// NewTensor creates a float64 tensor on the default device. It panics if
// the number of values does not match the shape, mirroring a programming
// error rather than a runtime condition.
func NewTensor(values []float64, shape []int) *Tensor {
	return NewTensorOn(values, shape, Float64, "cpu")
}

// NewTensorOn creates a tensor with an explicit dtype and device tag.
func NewTensorOn(values []float64, shape []int, dtype Dtype, device string) *Tensor {
	n := numElements(shape)
	if len(values) != n {
		panic(fmt.Sprintf("model: %d values do not fill shape %v (%d elements)", len(values), shape, n))
	}
	data := make([]float64, n)
	for i, v := range values {
		data[i] = dtype.cast(v)
	}
	return &Tensor{
		data:   data,
		shape:  append([]int(nil), shape...),
		dtype:  dtype,
		device: device,
	}
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dtype returns the tensor's native element kind.
func (t *Tensor) Dtype() Dtype { return t.dtype }

// Device returns the tensor's compute placement tag.
func (t *Tensor) Device() string { return t.device }

// NumElements returns the number of elements the tensor holds.
func (t *Tensor) NumElements() int { return len(t.data) }

// Data returns the tensor's backing slice in row-major order. The slice is
// live: mutations write through to the tensor.
func (t *Tensor) Data() []float64 { return t.data }

// At returns the i-th element in row-major order.
func (t *Tensor) At(i int) float64 { return t.data[i] }

// Clone returns a detached copy sharing no storage with the receiver.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		data:   append([]float64(nil), t.data...),
		shape:  append([]int(nil), t.shape...),
		dtype:  t.dtype,
		device: t.device,
	}
}

// SetData overwrites the tensor's values in place, narrowing each value
// through the tensor's dtype. The tensor's identity, shape, dtype and
// device are unchanged.
func (t *Tensor) SetData(values []float64) error {
	if len(values) != len(t.data) {
		return fmt.Errorf("model: cannot write %d values into tensor of %d elements", len(values), len(t.data))
	}
	for i, v := range values {
		t.data[i] = t.dtype.cast(v)
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
