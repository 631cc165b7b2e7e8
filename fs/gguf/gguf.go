// Package gguf reads the metadata section of GGUF model files. It
// decodes the key-value table only; tensor data is never touched.
package gguf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// maxStringSize caps a single metadata string. Token strings are
	// further restricted by the vocabulary, this bound only keeps a
	// corrupt length prefix from allocating gigabytes.
	maxStringSize = 1 << 20

	// maxTotalStringData caps the aggregate size of all strings in the
	// metadata section.
	maxTotalStringData = 100 << 20

	// maxArrayLen caps declared array lengths. GGUF vocabularies top
	// out around a million entries.
	maxArrayLen = 1 << 24
)

var ErrUnsupportedFormat = errors.New("unsupported format")

type ggufType uint32

const (
	typeUint8 ggufType = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// File is the decoded metadata section of a GGUF file.
type File struct {
	Version     uint32
	TensorCount uint64

	kv map[string]Value
}

// Open decodes the metadata section of the GGUF file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

type decoder struct {
	r io.Reader

	// stringBytes tracks the aggregate size of decoded strings so a
	// crafted file cannot exhaust memory one string at a time.
	stringBytes uint64
}

// Decode reads GGUF metadata from r. It verifies the magic and
// version, then decodes every key-value pair up to the tensor info
// section, which is not consumed.
func Decode(r io.Reader) (*File, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}

	if string(magic[:]) != "GGUF" {
		return nil, fmt.Errorf("%w: bad magic %q", ErrUnsupportedFormat, magic)
	}

	d := decoder{r: r}

	version, err := d.uint32()
	if err != nil {
		return nil, err
	}

	if version < 2 || version > 3 {
		return nil, fmt.Errorf("%w: gguf version %d", ErrUnsupportedFormat, version)
	}

	tensorCount, err := d.uint64()
	if err != nil {
		return nil, err
	}

	kvCount, err := d.uint64()
	if err != nil {
		return nil, err
	}

	f := &File{
		Version:     version,
		TensorCount: tensorCount,
		kv:          make(map[string]Value, kvCount),
	}

	for range kvCount {
		key, err := d.string()
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}

		value, err := d.value()
		if err != nil {
			return nil, fmt.Errorf("reading value for %q: %w", key, err)
		}

		f.kv[key] = Value{value}
	}

	return f, nil
}

// KeyValue returns the value stored under key. The zero Value is
// returned for unknown keys; its accessors all return zero values.
func (f *File) KeyValue(key string) Value {
	return f.kv[key]
}

// HasKey reports whether key is present in the metadata.
func (f *File) HasKey(key string) bool {
	_, ok := f.kv[key]
	return ok
}

// Keys returns the number of decoded key-value pairs.
func (f *File) Keys() int {
	return len(f.kv)
}

func (d *decoder) uint32() (uint32, error) {
	var v uint32
	err := binary.Read(d.r, binary.LittleEndian, &v)
	return v, err
}

func (d *decoder) uint64() (uint64, error) {
	var v uint64
	err := binary.Read(d.r, binary.LittleEndian, &v)
	return v, err
}

func (d *decoder) string() (string, error) {
	n, err := d.uint64()
	if err != nil {
		return "", err
	}

	if n > maxStringSize {
		return "", fmt.Errorf("string length %d exceeds %d", n, maxStringSize)
	}

	d.stringBytes += n
	if d.stringBytes > maxTotalStringData {
		return "", fmt.Errorf("aggregate string data exceeds %d bytes", maxTotalStringData)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func (d *decoder) scalar(t ggufType) (any, error) {
	switch t {
	case typeUint8:
		var v uint8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeInt8:
		var v int8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeUint16:
		var v uint16
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeInt16:
		var v int16
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeUint32:
		v, err := d.uint32()
		return v, err
	case typeInt32:
		var v int32
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeFloat32:
		var v float32
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeBool:
		var v uint8
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v != 0, err
	case typeString:
		return d.string()
	case typeUint64:
		v, err := d.uint64()
		return v, err
	case typeInt64:
		var v int64
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	case typeFloat64:
		var v float64
		err := binary.Read(d.r, binary.LittleEndian, &v)
		return v, err
	default:
		return nil, fmt.Errorf("%w: value type %d", ErrUnsupportedFormat, t)
	}
}

func (d *decoder) value() (any, error) {
	t, err := d.uint32()
	if err != nil {
		return nil, err
	}

	if ggufType(t) != typeArray {
		return d.scalar(ggufType(t))
	}

	elem, err := d.uint32()
	if err != nil {
		return nil, err
	}

	n, err := d.uint64()
	if err != nil {
		return nil, err
	}

	if n > maxArrayLen {
		return nil, fmt.Errorf("array length %d exceeds %d", n, maxArrayLen)
	}

	if ggufType(elem) == typeArray {
		return nil, fmt.Errorf("%w: nested arrays", ErrUnsupportedFormat)
	}

	switch ggufType(elem) {
	case typeString:
		vs := make([]string, n)
		for i := range vs {
			if vs[i], err = d.string(); err != nil {
				return nil, err
			}
		}
		return vs, nil
	case typeInt32:
		vs := make([]int32, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeUint32:
		vs := make([]uint32, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeFloat32:
		vs := make([]float32, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeInt64:
		vs := make([]int64, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeUint64:
		vs := make([]uint64, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeFloat64:
		vs := make([]float64, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeBool:
		raw := make([]uint8, n)
		if err := binary.Read(d.r, binary.LittleEndian, raw); err != nil {
			return nil, err
		}
		vs := make([]bool, n)
		for i, b := range raw {
			vs[i] = b != 0
		}
		return vs, nil
	case typeUint8:
		vs := make([]uint8, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeInt8:
		vs := make([]int8, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeUint16:
		vs := make([]uint16, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	case typeInt16:
		vs := make([]int16, n)
		err := binary.Read(d.r, binary.LittleEndian, vs)
		return vs, err
	default:
		return nil, fmt.Errorf("%w: array element type %d", ErrUnsupportedFormat, elem)
	}
}
