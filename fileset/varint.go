package fileset

import "encoding/binary"

// varintPutSize and varintPut give fileset's directory headers (entry
// counts) the same var-int framing codec uses internally, without
// depending on codec's unexported putter.
func varintPutSize(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

func varintPut(buf []byte, v uint64) int {
	return binary.PutUvarint(buf, v)
}

func varintGet(buf []byte) (uint64, int) {
	return binary.Uvarint(buf)
}

func putU64LE(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

func getU64LE(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}
