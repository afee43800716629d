package sensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Float4x4 is a 4x4 single-precision transform stored row-major
// (m11, m12, m13, m14, m21, ...). The device APIs use the row-vector
// convention: a point p maps to p*M, with translation in m41..m43.
type Float4x4 [16]float32

// Float4x4Size is the encoded size of a Float4x4 side-channel blob.
const Float4x4Size = 16 * 4

// ZeroFloat4x4 is the sentinel meaning "no valid transform". No rigid
// transform produced by the tracker is all-zero.
var ZeroFloat4x4 Float4x4

// Identity4x4 is the identity transform.
var Identity4x4 = Float4x4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// DecodeFloat4x4 decodes a side-channel blob of exactly 64 bytes holding 16
// little-endian float32 values in row-major order. Any other length is
// rejected.
func DecodeFloat4x4(blob []byte) (Float4x4, bool) {
	if len(blob) != Float4x4Size {
		return ZeroFloat4x4, false
	}
	var m Float4x4
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return m, true
}

// Encode returns the 64-byte little-endian blob form of m.
func (m Float4x4) Encode() []byte {
	blob := make([]byte, Float4x4Size)
	for i, v := range m {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// IsZero reports whether m is the zero sentinel.
func (m Float4x4) IsZero() bool {
	return m == ZeroFloat4x4
}

// At returns the element at row r, column c (0-based).
func (m Float4x4) At(r, c int) float32 {
	return m[r*4+c]
}

// Translation returns m41, m42, m43.
func (m Float4x4) Translation() (x, y, z float32) {
	return m[12], m[13], m[14]
}

// TransformPoint maps (x, y, z) through m using the row-vector convention.
func (m Float4x4) TransformPoint(x, y, z float32) (tx, ty, tz float32) {
	tx = x*m[0] + y*m[4] + z*m[8] + m[12]
	ty = x*m[1] + y*m[5] + z*m[9] + m[13]
	tz = x*m[2] + y*m[6] + z*m[10] + m[14]
	return
}

// Mul returns m*n. Under the row-vector convention the result applies m
// first, then n.
func (m Float4x4) Mul(n Float4x4) Float4x4 {
	var out mat.Dense
	out.Mul(m.dense(), n.dense())
	return fromDense(&out)
}

// Inverse returns the inverse of m, or false if m is singular.
func (m Float4x4) Inverse() (Float4x4, bool) {
	var inv mat.Dense
	if err := inv.Inverse(m.dense()); err != nil {
		return ZeroFloat4x4, false
	}
	return fromDense(&inv), true
}

func (m Float4x4) dense() *mat.Dense {
	data := make([]float64, 16)
	for i, v := range m {
		data[i] = float64(v)
	}
	return mat.NewDense(4, 4, data)
}

func fromDense(d *mat.Dense) Float4x4 {
	var m Float4x4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r*4+c] = float32(d.At(r, c))
		}
	}
	return m
}

func (m Float4x4) String() string {
	return fmt.Sprintf("[[%f, %f, %f, %f], [%f, %f, %f, %f], [%f, %f, %f, %f], [%f, %f, %f, %f]]",
		m[0], m[1], m[2], m[3],
		m[4], m[5], m[6], m[7],
		m[8], m[9], m[10], m[11],
		m[12], m[13], m[14], m[15])
}
