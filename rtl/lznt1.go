package rtl

// LZNT1 codec, spec.md §4.5. Grounded on
// original_source/kernel/src/rtl/compress.rs: the chunk header layout,
// the sliding copy-token bit allocation, and the encoder's two-way hash
// chain are all translated directly from that source since spec.md's
// prose does not by itself pin down tie-breaking and clamping behavior
// (see spec.md §9 Open Questions, resolved in DESIGN.md).

const (
	lznt1ChunkSize = 4096
	lznt1HeaderLen = 2
)

// formatMaxLength[f] / formatMaxDisplacement[f] index by the "format"
// derived from the current position within a chunk (spec.md §4.5): F is
// the smallest index such that position < 16*2^F.
var formatMaxLength = [9]int{4098, 2050, 1026, 514, 258, 130, 66, 34, 18}
var formatMaxDisplacement = [9]int{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

func lznt1Format(position int) int {
	for f, maxDisp := range formatMaxDisplacement {
		if position < maxDisp {
			return f
		}
	}
	return 8
}

func lznt1LengthBits(format int) uint { return uint(12 - format) }

func copyTokenLength(format int, token uint16) int {
	lengthBits := lznt1LengthBits(format)
	mask := uint16(1<<lengthBits) - 1
	return int(token&mask) + 3
}

func copyTokenDisplacement(format int, token uint16) int {
	lengthBits := lznt1LengthBits(format)
	return int(token>>lengthBits) + 1
}

func makeCopyToken(format, length, displacement int) uint16 {
	lengthBits := lznt1LengthBits(format)
	mask := uint16(1<<lengthBits) - 1
	lengthField := uint16(length-3) & mask
	dispField := uint16(displacement-1) << lengthBits
	return lengthField | dispField
}

type chunkHeader uint16

func newChunkHeader(compressedSize int, isCompressed bool) chunkHeader {
	v := uint16(compressedSize-3) & 0x0FFF
	v |= 3 << 12
	if isCompressed {
		v |= 1 << 15
	}
	return chunkHeader(v)
}

func (h chunkHeader) compressedSize() int { return int(h&0x0FFF) + 3 }
func (h chunkHeader) signature() int      { return int((h >> 12) & 0x07) }
func (h chunkHeader) isCompressed() bool  { return h&0x8000 != 0 }
func (h chunkHeader) isEnd() bool         { return h == 0 }

func readHeader(b []byte) chunkHeader {
	return chunkHeader(uint16(b[0]) | uint16(b[1])<<8)
}

func writeHeader(b []byte, h chunkHeader) {
	b[0] = byte(h)
	b[1] = byte(h >> 8)
}

// CompressBuffer compresses input as a sequence of LZNT1 chunks,
// terminated by a zero header. It returns StatusBufferAllZeros
// (informational, Ok()==true) when every input byte was zero, or
// StatusSuccess otherwise.
func CompressBuffer(input []byte) ([]byte, Status) {
	out := make([]byte, 0, len(input)/2+lznt1HeaderLen)
	allZeros := true

	for pos := 0; pos < len(input); {
		end := pos + lznt1ChunkSize
		if end > len(input) {
			end = len(input)
		}
		chunk := input[pos:end]

		body, ok := compressChunk(chunk)
		if ok && len(body)+lznt1HeaderLen < len(chunk)+lznt1HeaderLen {
			hdr := newChunkHeader(len(body)+lznt1HeaderLen, true)
			hb := make([]byte, lznt1HeaderLen)
			writeHeader(hb, hdr)
			out = append(out, hb...)
			out = append(out, body...)
		} else {
			hdr := newChunkHeader(len(chunk)+lznt1HeaderLen, false)
			hb := make([]byte, lznt1HeaderLen)
			writeHeader(hb, hdr)
			out = append(out, hb...)
			out = append(out, chunk...)
		}

		for _, b := range chunk {
			if b != 0 {
				allZeros = false
				break
			}
		}

		pos = end
	}

	// End-of-stream marker.
	out = append(out, 0, 0)

	if allZeros {
		return out, StatusBufferAllZeros
	}
	return out, StatusSuccess
}

// compressChunk attempts to compress a single <=4096-byte chunk body
// (header excluded). ok is false if compression was not attempted to be
// beneficial (caller falls back to storing the chunk uncompressed).
func compressChunk(chunk []byte) (body []byte, ok bool) {
	n := len(chunk)
	out := make([]byte, 0, n)

	// Two-way hash table: hashTable[h][0] is the most recent position
	// hashing to h, hashTable[h][1] the one before that.
	var hashTable [4096][2]int
	for i := range hashTable {
		hashTable[i][0] = -1
		hashTable[i][1] = -1
	}

	flagPos := 0
	out = append(out, 0) // placeholder flag byte
	var flagByte byte
	var flagBit uint

	pos := 0
	for pos < n {
		format := lznt1Format(pos)
		maxLength := formatMaxLength[format]
		if n-pos < maxLength {
			maxLength = n - pos
		}
		maxDisplacement := formatMaxDisplacement[format]
		if pos < maxDisplacement {
			maxDisplacement = pos
		}

		bestLength, bestDisp := 0, 0
		if pos+3 <= n && maxDisplacement > 0 {
			hash := lznt1Hash(chunk[pos], chunk[pos+1], chunk[pos+2])
			for slot := 0; slot < 2; slot++ {
				cand := hashTable[hash][slot]
				if cand >= 0 && cand < pos && pos-cand <= maxDisplacement {
					length := 0
					for length < maxLength && pos+length < n && chunk[cand+length] == chunk[pos+length] {
						length++
					}
					if length >= 3 && length > bestLength {
						bestLength = length
						bestDisp = pos - cand
					}
				}
			}
			hashTable[hash][1] = hashTable[hash][0]
			hashTable[hash][0] = pos
		}

		if bestLength >= 3 {
			if len(out)+2 > n+1 {
				return nil, false
			}
			flagByte |= 1 << flagBit
			token := makeCopyToken(format, bestLength, bestDisp)
			out = append(out, byte(token), byte(token>>8))
			pos += bestLength
		} else {
			if len(out) >= n+1 {
				return nil, false
			}
			out = append(out, chunk[pos])
			pos++
		}

		flagBit++
		if flagBit == 8 {
			out[flagPos] = flagByte
			flagByte = 0
			flagBit = 0
			if pos < n {
				flagPos = len(out)
				out = append(out, 0)
			}
		}
	}

	if flagBit > 0 {
		out[flagPos] = flagByte
	}

	if len(out) >= n {
		return nil, false
	}
	return out, true
}

func lznt1Hash(b0, b1, b2 byte) uint16 {
	return (uint16(b0)<<4 ^ uint16(b1) ^ uint16(b2)<<4) & 0xFFF
}

// DecompressBuffer reverses CompressBuffer. It returns
// StatusBadCompressionBuffer if the signature field of any chunk header
// is not 3, or if a copy token's displacement exceeds the bytes already
// produced in the current chunk.
func DecompressBuffer(compressed []byte) ([]byte, Status) {
	var out []byte
	pos := 0
	for pos+2 <= len(compressed) {
		hdr := readHeader(compressed[pos:])
		if hdr.isEnd() {
			break
		}
		if hdr.signature() != 3 {
			return nil, StatusBadCompressionBuffer
		}
		size := hdr.compressedSize()
		if pos+size > len(compressed) {
			return nil, StatusBadCompressionBuffer
		}
		body := compressed[pos+lznt1HeaderLen : pos+size]

		if hdr.isCompressed() {
			chunk, status := decompressChunk(body)
			if !status.Ok() {
				return nil, status
			}
			out = append(out, chunk...)
		} else {
			out = append(out, body...)
		}

		pos += size
	}
	return out, StatusSuccess
}

func decompressChunk(compressed []byte) ([]byte, Status) {
	if len(compressed) == 0 {
		return nil, StatusSuccess
	}

	out := make([]byte, 0, lznt1ChunkSize)
	inPos := 0

	flagByte := compressed[inPos]
	inPos++
	flagBit := uint(0)

	for len(out) < lznt1ChunkSize && inPos < len(compressed) {
		format := lznt1Format(len(out))

		if flagByte&(1<<flagBit) == 0 {
			out = append(out, compressed[inPos])
			inPos++
		} else {
			if inPos+1 >= len(compressed) {
				return nil, StatusBadCompressionBuffer
			}
			token := uint16(compressed[inPos]) | uint16(compressed[inPos+1])<<8
			inPos += 2

			displacement := copyTokenDisplacement(format, token)
			length := copyTokenLength(format, token)

			if displacement > len(out) {
				return nil, StatusBadCompressionBuffer
			}

			for i := 0; i < length; i++ {
				out = append(out, out[len(out)-displacement])
			}
		}

		flagBit = (flagBit + 1) % 8
		if flagBit == 0 && inPos < len(compressed) {
			flagByte = compressed[inPos]
			inPos++
		}
	}

	return out, StatusSuccess
}
