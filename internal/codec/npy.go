// Package codec encodes track arrays as NumPy .npy files and processing
// results as deterministic CBOR.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// ErrShape reports an array that cannot be represented as channels x samples.
var ErrShape = errors.New("codec: invalid array shape")

// EncodeTrack writes data (channels x samples) as a 2-D float64 .npy array.
// Every channel must hold the same number of samples.
func EncodeTrack(w io.Writer, data [][]float64) error {
	if len(data) == 0 || len(data[0]) == 0 {
		return fmt.Errorf("encode track: %w: empty array", ErrShape)
	}
	cols := len(data[0])
	flat := make([]float64, 0, len(data)*cols)
	for i, ch := range data {
		if len(ch) != cols {
			return fmt.Errorf("encode track: %w: channel %d has %d samples, want %d", ErrShape, i, len(ch), cols)
		}
		flat = append(flat, ch...)
	}
	bw := bufio.NewWriter(w)
	if err := npyio.Write(bw, mat.NewDense(len(data), cols, flat)); err != nil {
		return fmt.Errorf("encode track: %w", err)
	}
	return bw.Flush()
}

// DecodeTrack reads a float64 .npy array. A 1-D array is returned as a single channel.
func DecodeTrack(r io.Reader) ([][]float64, error) {
	npy, err := npyio.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decode track: %w", err)
	}
	shape := npy.Header.Descr.Shape
	switch len(shape) {
	case 1:
		var flat []float64
		if err := npy.Read(&flat); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		return [][]float64{flat}, nil
	case 2:
		if shape[0] == 0 || shape[1] == 0 {
			return nil, fmt.Errorf("decode track: %w: %v", ErrShape, shape)
		}
		var m mat.Dense
		if err := npy.Read(&m); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		rows, _ := m.Dims()
		out := make([][]float64, rows)
		for i := range out {
			out[i] = mat.Row(nil, i, &m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode track: %w: %v", ErrShape, shape)
	}
}
