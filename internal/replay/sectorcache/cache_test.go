package sectorcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openScratchFile(t *testing.T, size int) int {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scratch")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(size)))
	require.NoError(t, f.Close())

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func readBacking(t *testing.T, fd int, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	n, err := unix.Pread(fd, buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

func TestWritebackAllCommitsImmediately(t *testing.T) {
	fd := openScratchFile(t, 16)
	c := New(8, All)

	require.NoError(t, c.Write(fd, []byte("hello"), 0))
	assert.Equal(t, []byte("hello\x00\x00\x00"), readBacking(t, fd, 8))

	lost := c.Forget()
	assert.Equal(t, 0, lost, "All mode never buffers, so Forget has nothing to discard")
}

func TestWritebackNoneBuffersUntilSynchronize(t *testing.T) {
	fd := openScratchFile(t, 16)
	c := New(8, None)

	require.NoError(t, c.Write(fd, []byte("hello"), 0))
	assert.Equal(t, make([]byte, 8), readBacking(t, fd, 8), "buffered write must not reach the backing descriptor yet")

	require.NoError(t, c.Synchronize(fd))
	assert.Equal(t, []byte("hello\x00\x00\x00"), readBacking(t, fd, 8))
}

func TestWritebackNoneForgetsOnCrash(t *testing.T) {
	fd := openScratchFile(t, 8)
	c := New(8, None)

	require.NoError(t, c.Write(fd, []byte("hello"), 0))
	lost := c.Forget()
	assert.Equal(t, 1, lost)
	assert.Equal(t, make([]byte, 8), readBacking(t, fd, 8), "forgotten sector must never reach the backing descriptor")
}

func TestPartialSectorWritePrimesFromBackingFile(t *testing.T) {
	fd := openScratchFile(t, 8)
	require.NoError(t, unixPwriteAllForTest(fd, []byte("ABCDEFGH"), 0))

	c := New(8, None)
	require.NoError(t, c.Write(fd, []byte("XY"), 2))
	require.NoError(t, c.Synchronize(fd))

	assert.Equal(t, []byte("ABXYEFGH"), readBacking(t, fd, 8))
}

func TestOddEvenWritebackModes(t *testing.T) {
	fd := openScratchFile(t, 16)
	c := New(8, Odd)

	require.NoError(t, c.Write(fd, []byte("11111111"), 0)) // sector 0, even -> buffered
	require.NoError(t, c.Write(fd, []byte("22222222"), 8)) // sector 1, odd -> committed

	assert.Equal(t, make([]byte, 8), readBacking(t, fd, 8))
	got := make([]byte, 8)
	n, err := unix.Pread(fd, got, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("22222222"), got[:n])

	require.NoError(t, c.Synchronize(fd))
	assert.Equal(t, []byte("11111111"), readBacking(t, fd, 8))
}

func TestSynchronizeOrdersByAscendingOffset(t *testing.T) {
	fd := openScratchFile(t, 24)
	c := New(8, None)

	require.NoError(t, c.Write(fd, []byte("cccccccc"), 16))
	require.NoError(t, c.Write(fd, []byte("aaaaaaaa"), 0))
	require.NoError(t, c.Write(fd, []byte("bbbbbbbb"), 8))

	require.NoError(t, c.Synchronize(fd))

	assert.Equal(t, []byte("aaaaaaaabbbbbbbbcccccccc"), readBacking(t, fd, 24))
}

// unixPwriteAllForTest seeds a backing file directly, bypassing the cache,
// to set up fixtures for partial-sector-write tests.
func unixPwriteAllForTest(fd int, data []byte, offset int64) error {
	for len(data) > 0 {
		n, err := unix.Pwrite(fd, data, offset)
		if err != nil {
			return err
		}
		data = data[n:]
		offset += int64(n)
	}
	return nil
}
