package rtl

import "fmt"

// Hex encode/decode helpers, grounded on
// original_source/kernel/src/rtl/hex.rs. Used by ex's system-information
// dumps and by test failure output when comparing binary buffers.

const hexLower = "0123456789abcdef"

var hexDecodeTable [256]int8

func init() {
	for i := range hexDecodeTable {
		hexDecodeTable[i] = -1
	}
	for i := 0; i < 10; i++ {
		hexDecodeTable['0'+i] = int8(i)
	}
	for i := 0; i < 6; i++ {
		hexDecodeTable['a'+i] = int8(10 + i)
		hexDecodeTable['A'+i] = int8(10 + i)
	}
}

// EncodedLen returns the hex-encoded length of n raw bytes.
func EncodedLen(n int) int { return n * 2 }

// DecodedLen returns the raw length decoded from n hex characters.
func DecodedLen(n int) int { return n / 2 }

// HexEncode returns the lowercase hex encoding of input.
func HexEncode(input []byte) []byte {
	out := make([]byte, len(input)*2)
	for i, b := range input {
		out[i*2] = hexLower[b>>4]
		out[i*2+1] = hexLower[b&0xF]
	}
	return out
}

// HexDecode decodes a hex string, erroring on odd length or a non-hex
// character.
func HexDecode(input []byte) ([]byte, error) {
	if len(input)%2 != 0 {
		return nil, fmt.Errorf("rtl: odd-length hex input")
	}
	out := make([]byte, len(input)/2)
	for i := range out {
		hi := hexDecodeTable[input[i*2]]
		lo := hexDecodeTable[input[i*2+1]]
		if hi < 0 || lo < 0 {
			return nil, fmt.Errorf("rtl: invalid hex digit at byte %d", i)
		}
		out[i] = byte(hi)<<4 | byte(lo)
	}
	return out, nil
}

// HexDump renders data in the classic "offset  hex bytes  ascii"
// layout, 16 bytes per line, used by ex's diagnostic dump of system
// information buffers and by panic reports.
func HexDump(data []byte) string {
	var out []byte
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		out = append(out, []byte(fmt.Sprintf("%08x  ", off))...)
		for i := 0; i < 16; i++ {
			if i < len(line) {
				out = append(out, HexEncode(line[i:i+1])...)
				out = append(out, ' ')
			} else {
				out = append(out, "   "...)
			}
			if i == 7 {
				out = append(out, ' ')
			}
		}
		out = append(out, ' ', '|')
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				out = append(out, b)
			} else {
				out = append(out, '.')
			}
		}
		out = append(out, '|', '\n')
	}
	return string(out)
}
