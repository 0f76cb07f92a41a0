package fileio

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
)

// PayloadChecksum returns hex encoded SHA256 or CRC32 checksum of data
func PayloadChecksum(data []byte, sha bool) string {
	if sha {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	h := crc32.NewIEEE()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// progressiveChecksumSHA256 incrementally calculates SHA256 checksum
func progressiveChecksumSHA256(shaHash hash.Hash, data []byte) hash.Hash {
	if shaHash == nil {
		shaHash = sha256.New()
	}
	if len(data) > 0 {
		shaHash.Write(data)
	}
	return shaHash
}

// progressiveChecksumCRC32 incrementally calculates CRC32 checksum
func progressiveChecksumCRC32(hash uint32, data []byte) uint32 {
	return crc32.Update(hash, crc32.IEEETable, data)
}
