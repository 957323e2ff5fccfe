package codec

import (
	"github.com/sigurn/crc16"
)

// Checksum computes the frame trailer over header, code, length and payload.
// Firmware forks disagree on the algorithm, so it is selected per Variant.
type Checksum interface {
	// Size is the number of trailer bytes
	Size() int
	// Append computes the checksum of data and appends it to dst
	Append(dst, data []byte) []byte
	// Verify checks that trailer is the checksum of data
	Verify(data, trailer []byte) bool
	// Name identifies the algorithm in logs and config
	Name() string
}

// Sum8 is the arithmetic sum of all bytes modulo 256
type Sum8 struct{}

func (Sum8) Size() int    { return 1 }
func (Sum8) Name() string { return "sum8" }

func (Sum8) Append(dst, data []byte) []byte {
	return append(dst, sum8(data))
}

func (Sum8) Verify(data, trailer []byte) bool {
	return len(trailer) == 1 && trailer[0] == sum8(data)
}

func sum8(data []byte) byte {
	var s byte
	for _, b := range data {
		s += b
	}
	return s
}

// XOR8 folds all bytes with exclusive or, used by older firmware
type XOR8 struct{}

func (XOR8) Size() int    { return 1 }
func (XOR8) Name() string { return "xor8" }

func (XOR8) Append(dst, data []byte) []byte {
	return append(dst, xor8(data))
}

func (XOR8) Verify(data, trailer []byte) bool {
	return len(trailer) == 1 && trailer[0] == xor8(data)
}

func xor8(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// Modbus CRC16 table, shared by all CRC16Modbus values
var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16Modbus appends a little-endian CRC-16/MODBUS trailer
type CRC16Modbus struct{}

func (CRC16Modbus) Size() int    { return 2 }
func (CRC16Modbus) Name() string { return "crc16-modbus" }

func (CRC16Modbus) Append(dst, data []byte) []byte {
	crc := crc16.Checksum(data, modbusTable)
	return append(dst, byte(crc), byte(crc>>8))
}

func (CRC16Modbus) Verify(data, trailer []byte) bool {
	if len(trailer) != 2 {
		return false
	}
	received := uint16(trailer[0]) | uint16(trailer[1])<<8
	return received == crc16.Checksum(data, modbusTable)
}
