package logdb

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// crcTable is the Castagnoli CRC32 polynomial table, the same variant used
// for header checksums throughout this codebase's storage formats.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// --- data file header ---
//
// Layout (little-endian, 16 bytes):
//
//	offset 0:  magic[4]        "LDBF"
//	offset 4:  version uint16  fileVersion1 or fileVersion2
//	offset 6:  sectionSize u32 bytes per section
//	offset 10: reserved[2]     must be zero
//	offset 12: headerCRC u32   crc32c over bytes [0,12) with this field zeroed

const (
	dataMagic     = "LDBF"
	dataHeaderLen = 16

	fileVersion1 uint16 = 1 // original format: uint16 log entries
	fileVersion2 uint16 = 2 // widened format: uint32 log entries (see design note 3)
)

type dataHeader struct {
	version     uint16
	sectionSize uint32
}

func encodeDataHeader(h dataHeader) []byte {
	buf := make([]byte, dataHeaderLen)
	copy(buf[0:4], dataMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.version)
	binary.LittleEndian.PutUint32(buf[6:10], h.sectionSize)
	crc := crc32.Checksum(buf[0:12], crcTable)
	binary.LittleEndian.PutUint32(buf[12:16], crc)

	return buf
}

func decodeDataHeader(buf []byte) (dataHeader, error) {
	if len(buf) < dataHeaderLen {
		return dataHeader{}, fmt.Errorf("%w: short data header (%d bytes)", ErrCorrupt, len(buf))
	}

	if string(buf[0:4]) != dataMagic {
		return dataHeader{}, fmt.Errorf("%w: bad data file magic", ErrCorrupt)
	}

	wantCRC := binary.LittleEndian.Uint32(buf[12:16])
	gotCRC := crc32.Checksum(buf[0:12], crcTable)

	if wantCRC != gotCRC {
		return dataHeader{}, fmt.Errorf("%w: data header checksum mismatch", ErrCorrupt)
	}

	h := dataHeader{
		version:     binary.LittleEndian.Uint16(buf[4:6]),
		sectionSize: binary.LittleEndian.Uint32(buf[6:10]),
	}

	if h.version != fileVersion1 && h.version != fileVersion2 {
		return dataHeader{}, fmt.Errorf("%w: data file version %d", ErrIncompatible, h.version)
	}

	if h.sectionSize < minSectionSize {
		return dataHeader{}, fmt.Errorf("%w: section size %d below minimum", ErrCorrupt, h.sectionSize)
	}

	return h, nil
}

// --- log file header ---
//
// Layout (little-endian, 16 bytes):
//
//	offset 0:  magic[4]       "LDBL"
//	offset 4:  version uint16 fileVersion1 (uint16 entries) or fileVersion2 (uint32 entries)
//	offset 6:  reserved[2]    must be zero
//	offset 8:  numEntries u32
//	offset 12: headerCRC u32  crc32c over bytes [0,12) with this field zeroed

const (
	logMagic     = "LDBL"
	logHeaderLen = 16
)

type logHeader struct {
	version    uint16
	numEntries uint32
}

// entryWidth returns the byte width of one log entry for this header's
// version: 2 for the original uint16 format, 4 for the widened format.
func (h logHeader) entryWidth() int64 {
	if h.version == fileVersion1 {
		return 2
	}

	return 4
}

func encodeLogHeader(h logHeader) []byte {
	buf := make([]byte, logHeaderLen)
	copy(buf[0:4], logMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.numEntries)
	crc := crc32.Checksum(buf[0:12], crcTable)
	binary.LittleEndian.PutUint32(buf[12:16], crc)

	return buf
}

func decodeLogHeader(buf []byte) (logHeader, error) {
	if len(buf) < logHeaderLen {
		return logHeader{}, fmt.Errorf("%w: short log header (%d bytes)", ErrCorrupt, len(buf))
	}

	if string(buf[0:4]) != logMagic {
		return logHeader{}, fmt.Errorf("%w: bad log file magic", ErrCorrupt)
	}

	wantCRC := binary.LittleEndian.Uint32(buf[12:16])
	gotCRC := crc32.Checksum(buf[0:12], crcTable)

	if wantCRC != gotCRC {
		return logHeader{}, fmt.Errorf("%w: log header checksum mismatch", ErrCorrupt)
	}

	h := logHeader{
		version:    binary.LittleEndian.Uint16(buf[4:6]),
		numEntries: binary.LittleEndian.Uint32(buf[8:12]),
	}

	if h.version != fileVersion1 && h.version != fileVersion2 {
		return logHeader{}, fmt.Errorf("%w: log file version %d", ErrIncompatible, h.version)
	}

	return h, nil
}

// encodeLogEntry/decodeLogEntry convert a section's valid-length count to
// and from its on-disk width, per the header's version.
func encodeLogEntry(h logHeader, validLen uint32) []byte {
	if h.version == fileVersion1 {
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(validLen)) //nolint:gosec // validated by caller against section size

		return buf
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, validLen)

	return buf
}

func decodeLogEntry(h logHeader, buf []byte) uint32 {
	if h.version == fileVersion1 {
		return uint32(binary.LittleEndian.Uint16(buf))
	}

	return binary.LittleEndian.Uint32(buf)
}

// --- trailer, written at fold-on-close time ---
//
// Layout (little-endian, 16 bytes):
//
//	offset 0: magic[4]      "LDBT"
//	offset 4: logOffset u64 bytes from EOF back to the start of the folded log image
//	offset 12: crc u32      crc32c over bytes [0,12)

const (
	trailerMagic = "LDBT"
	trailerLen   = 16
)

type trailer struct {
	logOffset uint64
}

func encodeTrailer(t trailer) []byte {
	buf := make([]byte, trailerLen)
	copy(buf[0:4], trailerMagic)
	binary.LittleEndian.PutUint64(buf[4:12], t.logOffset)
	crc := crc32.Checksum(buf[0:12], crcTable)
	binary.LittleEndian.PutUint32(buf[12:16], crc)

	return buf
}

func decodeTrailer(buf []byte) (trailer, bool) {
	if len(buf) < trailerLen || string(buf[0:4]) != trailerMagic {
		return trailer{}, false
	}

	wantCRC := binary.LittleEndian.Uint32(buf[12:16])
	gotCRC := crc32.Checksum(buf[0:12], crcTable)

	if wantCRC != gotCRC {
		return trailer{}, false
	}

	return trailer{logOffset: binary.LittleEndian.Uint64(buf[4:12])}, true
}

// --- record header ---
//
// Layout (little-endian, 8 bytes): keylen uint32, valuelen uint32.

const recordHeaderLen = 8

func encodeRecordHeader(keyLen, valueLen uint32) []byte {
	buf := make([]byte, recordHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], keyLen)
	binary.LittleEndian.PutUint32(buf[4:8], valueLen)

	return buf
}

func decodeRecordHeader(buf []byte) (keyLen, valueLen uint32) {
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8])
}
