package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/graft/internal/tensor"
)

// Tensor is a named matrix to be written.
type Tensor struct {
	Name string
	Mat  *tensor.Mat
}

// Write stores tensors at path in the given dtype (F32 or BF16). Tensors are
// laid out in name order so identical inputs produce identical files. The file
// is written to a temporary sibling and renamed into place.
func Write(path string, tensors []Tensor, dtype string, metadata map[string]string) error {
	elemSize, err := elemSizeFor(dtype)
	if err != nil {
		return err
	}

	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for i, t := range sorted {
		if t.Name == "" || t.Name == metadataKey {
			return fmt.Errorf("safetensors: invalid tensor name %q", t.Name)
		}
		if i > 0 && sorted[i-1].Name == t.Name {
			return fmt.Errorf("safetensors: duplicate tensor %q", t.Name)
		}
		if t.Mat == nil {
			return fmt.Errorf("safetensors: tensor %q is nil", t.Name)
		}
		n := int64(t.Mat.R*t.Mat.C) * int64(elemSize)
		header[t.Name] = tensorHeader{
			DType:       dtype,
			Shape:       []int{t.Mat.R, t.Mat.C},
			DataOffsets: []int64{offset, offset + n},
		}
		offset += n
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: encode header: %w", err)
	}
	// Pad the header so the data section starts 8-byte aligned.
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".safetensors-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriterSize(tmp, 1<<20)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		_ = tmp.Close()
		return err
	}
	var scratch [4]byte
	for _, t := range sorted {
		for i := 0; i < t.Mat.R; i++ {
			for _, v := range t.Mat.Row(i) {
				switch dtype {
				case DTypeF32:
					binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
				case DTypeBF16:
					binary.LittleEndian.PutUint16(scratch[:], tensor.F32ToBF16(v))
				}
				if _, err := w.Write(scratch[:elemSize]); err != nil {
					_ = tmp.Close()
					return err
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func elemSizeFor(dtype string) (int, error) {
	switch dtype {
	case DTypeF32:
		return 4, nil
	case DTypeBF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("safetensors: unsupported write dtype %q", dtype)
	}
}
