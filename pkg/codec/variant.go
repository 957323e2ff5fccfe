package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Variant captures everything that differs between firmware forks of the
// protocol family: the magic header, the checksum algorithm, whether the
// device sends a terminal acknowledgement once a whole frame is applied,
// and the largest panel the firmware accepts.
type Variant struct {
	Name      string
	Header    []byte
	Checksum  Checksum
	FrameAck  bool // Device sends AckFrameComplete after the last chunk
	MaxWidth  int
	MaxHeight int
}

// Built-in variants
var (
	VariantStandard = Variant{
		Name:      "standard",
		Header:    []byte{0xAA, 0x55},
		Checksum:  Sum8{},
		FrameAck:  true,
		MaxWidth:  128,
		MaxHeight: 32,
	}

	VariantLegacyXOR = Variant{
		Name:      "legacy-xor",
		Header:    []byte{0x55, 0xAA},
		Checksum:  XOR8{},
		FrameAck:  false,
		MaxWidth:  64,
		MaxHeight: 16,
	}

	VariantCRC16 = Variant{
		Name:      "crc16",
		Header:    []byte{0xA5, 0x5A},
		Checksum:  CRC16Modbus{},
		FrameAck:  true,
		MaxWidth:  192,
		MaxHeight: 64,
	}
)

var variants = map[string]Variant{
	VariantStandard.Name:  VariantStandard,
	VariantLegacyXOR.Name: VariantLegacyXOR,
	VariantCRC16.Name:     VariantCRC16,
}

// LookupVariant resolves a variant by its config name
func LookupVariant(name string) (Variant, error) {
	if name == "" {
		return VariantStandard, nil
	}
	v, ok := variants[strings.ToLower(name)]
	if !ok {
		return Variant{}, fmt.Errorf("unknown device variant %q (known: %s)", name, strings.Join(VariantNames(), ", "))
	}
	return v, nil
}

// VariantNames lists the built-in variant names in sorted order
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overhead returns the number of non-payload bytes in a frame
func (v Variant) Overhead() int {
	return len(v.Header) + CodeSize + LengthSize + v.Checksum.Size()
}

// String returns string representation of Variant
func (v Variant) String() string {
	return fmt.Sprintf("Variant{%s, header=% X, checksum=%s, frameAck=%t}",
		v.Name, v.Header, v.Checksum.Name(), v.FrameAck)
}
