package container

import "fmt"

// DType is the element type of a dataset. All types are little endian.
type DType string

const (
	Float32 DType = "f4"
	Float64 DType = "f8"
	Int8    DType = "i1"
	Int16   DType = "i2"
	Int32   DType = "i4"
	Int64   DType = "i8"
	Uint8   DType = "u1"
	Uint16  DType = "u2"
	Uint32  DType = "u4"
	Uint64  DType = "u8"
)

var dtypeSizes = map[DType]int{
	Float32: 4,
	Float64: 8,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
}

// Size returns size of an element in bytes, 0 for invalid types
func (t DType) Size() int {
	return dtypeSizes[t]
}

func (t DType) Valid() bool {
	return t.Size() > 0
}

func (t DType) String() string {
	return string(t)
}

// ParseDType parses a type name like "f4"
func ParseDType(s string) (DType, error) {
	t := DType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid dtype '%s'", s)
	}
	return t, nil
}
