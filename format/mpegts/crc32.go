package mpegts

import "fmt"

// PSI sections carry a CRC32 computed with the MPEG-2 polynomial, MSB-first
// and without the final inversion, so hash/crc32 (which implements the
// reflected IEEE variant) does not apply here.
const crcPoly = 0x04C11DB7

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint32 {
	var table [256]uint32
	for i := range table {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&(1<<31) != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

func computeCRC32(data []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section whose last four bytes hold its CRC32. Running
// the register over section plus checksum leaves zero on a clean section.
func verifyCRC32(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("mpegts: section too short for CRC32")
	}
	if computeCRC32(data) != 0 {
		return fmt.Errorf("mpegts: section CRC32 mismatch")
	}
	return nil
}
