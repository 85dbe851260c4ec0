package buffindexed

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/InterNetNews/inncore/token"
)

// BlockSize is the fixed block size of a buffer file, per spec §4.C4.
const BlockSize = 8192

// BlockPtr names a block within a buffer: which buffer file, and which
// block number within it.
type BlockPtr struct {
	BufferID uint16
	BlockID  uint32
}

// Null reports whether p is the "no block" sentinel.
func (p BlockPtr) Null() bool { return p.BufferID == 0 && p.BlockID == 0 }

const (
	indexBlockMagic uint32 = 0x494e4458 // "INDX"
	maxGroupName           = 255
)

// indexEntry is one (article-number, location, token) record inside an
// index block, per spec §6's Buffindexed block layout and §4.C4's
// add(group, article_num, overview, token, arrived, expires) — Token is
// the caller's storage token for the article itself, distinct from the
// (DataBuffer, DataBlock, DataOffset) locator used to find the
// overview line's own bytes.
type indexEntry struct {
	Num        int64 // negative means tombstoned (spec §4.C4 cancel)
	DataBuffer uint16
	DataBlock  uint32
	DataOffset uint32
	OverLen    uint32
	Token      token.Token
}

const indexEntrySize = 8 + 2 + 4 + 4 + 4 + token.TokenSize // 40 bytes

// indexBlockHeaderSize accounts for magic, group name, high/low/count,
// flag, four BlockPtrs (6 bytes each), checksum.
const indexBlockHeaderSize = 4 + (2 + maxGroupName) + 8 + 8 + 8 + 1 + 4*6 + 4

// indexBlock is the in-memory decoding of one 8KiB index block.
type indexBlock struct {
	self      BlockPtr
	Group     string
	High      int64
	Low       int64
	Count     int64
	Flag      byte
	ChainHead BlockPtr
	ChainTail BlockPtr
	IdxHead   BlockPtr
	IdxTail   BlockPtr
	Entries   []indexEntry
}

func maxEntriesPerBlock() int {
	return (BlockSize - indexBlockHeaderSize) / indexEntrySize
}

func encodeBlockPtr(b []byte, p BlockPtr) {
	binary.LittleEndian.PutUint16(b[0:2], p.BufferID)
	binary.LittleEndian.PutUint32(b[2:6], p.BlockID)
}

func decodeBlockPtr(b []byte) BlockPtr {
	return BlockPtr{
		BufferID: binary.LittleEndian.Uint16(b[0:2]),
		BlockID:  binary.LittleEndian.Uint32(b[2:6]),
	}
}

// encode serializes the index block into an 8KiB buffer, little-endian
// throughout and with an explicit checksum (spec §9 design notes: no
// bias, no tag-bit stealing, fixed little-endian layout, explicit
// per-block checksum the legacy format lacked).
func (ib *indexBlock) encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], indexBlockMagic)
	off := 4
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(ib.Group)))
	off += 2
	copy(buf[off:off+maxGroupName], ib.Group)
	off += maxGroupName
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(ib.High))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(ib.Low))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(ib.Count))
	off += 8
	buf[off] = ib.Flag
	off++
	encodeBlockPtr(buf[off:off+6], ib.ChainHead)
	off += 6
	encodeBlockPtr(buf[off:off+6], ib.ChainTail)
	off += 6
	encodeBlockPtr(buf[off:off+6], ib.IdxHead)
	off += 6
	encodeBlockPtr(buf[off:off+6], ib.IdxTail)
	off += 6
	checksumOff := off
	off += 4 // checksum placeholder, filled below
	entriesOff := off
	for i, e := range ib.Entries {
		eo := entriesOff + i*indexEntrySize
		if eo+indexEntrySize > BlockSize {
			break
		}
		binary.LittleEndian.PutUint64(buf[eo:eo+8], uint64(e.Num))
		binary.LittleEndian.PutUint16(buf[eo+8:eo+10], e.DataBuffer)
		binary.LittleEndian.PutUint32(buf[eo+10:eo+14], e.DataBlock)
		binary.LittleEndian.PutUint32(buf[eo+14:eo+18], e.DataOffset)
		binary.LittleEndian.PutUint32(buf[eo+18:eo+22], e.OverLen)
		tb := e.Token.Bytes()
		copy(buf[eo+22:eo+22+token.TokenSize], tb[:])
	}
	sum := murmur3.Sum32(buf[checksumOff+4:])
	binary.LittleEndian.PutUint32(buf[checksumOff:checksumOff+4], sum)
	return buf
}

func decodeIndexBlock(self BlockPtr, buf []byte) (*indexBlock, error) {
	if binary.LittleEndian.Uint32(buf[0:4]) != indexBlockMagic {
		return nil, errCorruptBlock("bad magic")
	}
	off := 4
	nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	if nameLen > maxGroupName {
		return nil, errCorruptBlock("group name too long")
	}
	name := string(buf[off : off+nameLen])
	off += maxGroupName
	ib := &indexBlock{self: self, Group: name}
	ib.High = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	ib.Low = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	ib.Count = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	ib.Flag = buf[off]
	off++
	ib.ChainHead = decodeBlockPtr(buf[off : off+6])
	off += 6
	ib.ChainTail = decodeBlockPtr(buf[off : off+6])
	off += 6
	ib.IdxHead = decodeBlockPtr(buf[off : off+6])
	off += 6
	ib.IdxTail = decodeBlockPtr(buf[off : off+6])
	off += 6
	checksumOff := off
	off += 4
	stored := binary.LittleEndian.Uint32(buf[checksumOff : checksumOff+4])
	want := murmur3.Sum32(buf[checksumOff+4:])
	if stored != want {
		return nil, errCorruptBlock("checksum mismatch")
	}
	entriesOff := off
	maxEntries := maxEntriesPerBlock()
	ib.Entries = make([]indexEntry, 0, maxEntries)
	for i := 0; i < maxEntries; i++ {
		eo := entriesOff + i*indexEntrySize
		if eo+indexEntrySize > BlockSize {
			break
		}
		num := int64(binary.LittleEndian.Uint64(buf[eo : eo+8]))
		if num == 0 && buf[eo+8] == 0 && buf[eo+9] == 0 {
			// Unwritten tail of the entry array: binary.LittleEndian
			// zero bytes represent "no entry here yet" since article
			// number 0 is never assigned (numbering starts at 1).
			break
		}
		tok, err := token.TokenFromBytes(buf[eo+22 : eo+22+token.TokenSize])
		if err != nil {
			return nil, errCorruptBlock("bad entry token")
		}
		ib.Entries = append(ib.Entries, indexEntry{
			Num:        num,
			DataBuffer: binary.LittleEndian.Uint16(buf[eo+8 : eo+10]),
			DataBlock:  binary.LittleEndian.Uint32(buf[eo+10 : eo+14]),
			DataOffset: binary.LittleEndian.Uint32(buf[eo+14 : eo+18]),
			OverLen:    binary.LittleEndian.Uint32(buf[eo+18 : eo+22]),
			Token:      tok,
		})
	}
	return ib, nil
}

type corruptBlockError struct{ msg string }

func (e corruptBlockError) Error() string { return "buffindexed: corrupt block: " + e.msg }

func errCorruptBlock(msg string) error { return corruptBlockError{msg} }
