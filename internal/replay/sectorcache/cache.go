// Package sectorcache models the delayed-writeback behavior of a
// block-oriented filesystem for a single regular file: writes to sectors
// the active WritebackMode doesn't commit immediately are buffered until
// Synchronize (fsync) or discarded on Forget (power loss).
package sectorcache

import (
	"math/rand"
	"sort"

	"golang.org/x/sys/unix"
)

// Cache is the per-inode sector writeback buffer for one regular file.
// It is not safe for concurrent use -- the replayer's single-threaded
// contract is what makes that acceptable.
type Cache struct {
	sectorSize int
	mode       WritebackMode
	rng        *rand.Rand

	// unpersisted maps a sector-aligned offset to the not-yet-persisted
	// bytes for that sector. A buffer's length is always <= sectorSize;
	// it is shorter only when it represents a partially-read tail sector.
	unpersisted map[int64][]byte
}

// New returns a cache for a file with the given sector size and writeback
// policy. sectorSize must be > 0.
func New(sectorSize int, mode WritebackMode) *Cache {
	return &Cache{
		sectorSize:  sectorSize,
		mode:        mode,
		rng:         rand.New(rand.NewSource(1)),
		unpersisted: make(map[int64][]byte),
	}
}

func (c *Cache) writebackP(sectorIndex int64) bool {
	switch c.mode {
	case All:
		return true
	case None:
		return false
	case Odd:
		return sectorIndex%2 != 0
	case Even:
		return sectorIndex%2 == 0
	case Random:
		return c.rng.Intn(2) == 0
	default:
		return true
	}
}

func pwriteAll(fd int, data []byte, offset int64) error {
	for len(data) > 0 {
		n, err := unix.Pwrite(fd, data, offset)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		data = data[n:]
		offset += int64(n)
	}
	return nil
}

func preadAll(fd int, data []byte, offset int64) (int, error) {
	read := 0
	for read < len(data) {
		n, err := unix.Pread(fd, data[read:], offset+int64(read))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return read, err
		}
		if n == 0 {
			break
		}
		read += n
	}
	return read, nil
}

// Write applies one WRITE operation's payload against fd, sector by sector,
// per spec.md §4.3's write algorithm.
func (c *Cache) Write(fd int, data []byte, offset int64) error {
	for len(data) > 0 {
		sectorIndex := offset / int64(c.sectorSize)
		offsetInSector := int(offset % int64(c.sectorSize))
		bytesInSector := len(data)
		if remaining := c.sectorSize - offsetInSector; bytesInSector > remaining {
			bytesInSector = remaining
		}
		sectorBegin := offset - int64(offsetInSector)

		if c.writebackP(sectorIndex) {
			if err := pwriteAll(fd, data[:bytesInSector], offset); err != nil {
				return err
			}
			delete(c.unpersisted, sectorBegin)
		} else {
			sector, exists := c.unpersisted[sectorBegin]
			partial := offsetInSector != 0 || bytesInSector != c.sectorSize

			if !exists && partial {
				// Not previously cached, and not fully overwritten: prime
				// from the backing descriptor first.
				sector = make([]byte, c.sectorSize)
				n, err := preadAll(fd, sector, sectorBegin)
				if err != nil {
					return err
				}
				want := offsetInSector + bytesInSector
				if n < want {
					n = want
				}
				sector = sector[:n]
			} else {
				// Either the write covers the whole sector, or we already
				// have a buffered copy -- grow it without touching the
				// backing descriptor: to sectorSize for a full-sector write,
				// otherwise only as far as this write reaches, so a short
				// tail buffer stays short.
				size := c.sectorSize
				if partial {
					size = len(sector)
					if end := offsetInSector + bytesInSector; end > size {
						size = end
					}
				}
				grown := make([]byte, size)
				copy(grown, sector)
				sector = grown
			}

			copy(sector[offsetInSector:offsetInSector+bytesInSector], data[:bytesInSector])
			c.unpersisted[sectorBegin] = sector
		}

		data = data[bytesInSector:]
		offset += int64(bytesInSector)
	}
	return nil
}

// Synchronize flushes every buffered sector to fd in ascending offset
// order, then clears the buffer. The ordering is deterministic so that the
// resulting bytes on fd don't depend on insertion order.
func (c *Cache) Synchronize(fd int) error {
	offsets := make([]int64, 0, len(c.unpersisted))
	for off := range c.unpersisted {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, off := range offsets {
		if err := pwriteAll(fd, c.unpersisted[off], off); err != nil {
			return err
		}
	}
	c.unpersisted = make(map[int64][]byte)
	return nil
}

// Forget discards every buffered sector, simulating power loss. It reports
// how many sectors were lost so the caller can log it.
func (c *Cache) Forget() (lost int) {
	lost = len(c.unpersisted)
	c.unpersisted = make(map[int64][]byte)
	return lost
}
