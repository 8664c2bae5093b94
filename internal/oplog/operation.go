// Package oplog defines the on-disk log grammar shared by the recorder and
// the replayer, and a streaming parser for it.
package oplog

import "fmt"

// OpType identifies which filesystem call an Operation records.
type OpType int

const (
	MKDIR OpType = iota
	UNLINK
	RMDIR
	SYMLINK
	RENAME
	LINK
	CHMOD
	CHOWN
	TRUNCATE
	FTRUNCATE
	CREATE
	OPEN
	WRITE
	RELEASE
	FSYNC
	UTIMENS
)

// opNames is indexed by OpType and gives each opcode's symbol in the log
// grammar; it backs OpType.String.
var opNames = [...]string{
	MKDIR:     "mkdir",
	UNLINK:    "unlink",
	RMDIR:     "rmdir",
	SYMLINK:   "symlink",
	RENAME:    "rename",
	LINK:      "link",
	CHMOD:     "chmod",
	CHOWN:     "chown",
	TRUNCATE:  "truncate",
	FTRUNCATE: "ftruncate",
	CREATE:    "create",
	OPEN:      "open",
	WRITE:     "write",
	RELEASE:   "release",
	FSYNC:     "fsync",
	UTIMENS:   "utimens",
}

func (t OpType) String() string {
	if int(t) < 0 || int(t) >= len(opNames) {
		return fmt.Sprintf("OpType(%d)", int(t))
	}
	return opNames[t]
}

// NoHandle is the sentinel handle_id value meaning "not applicable" -- the
// recorded call did not go through an open file handle.
const NoHandle = -1

// Timespec is a POSIX seconds+nanoseconds timestamp, as recorded by
// utimensat(2) arguments.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Operation is one decoded record from the log. Only the fields relevant to
// Type are populated; the rest hold their zero value.
type Operation struct {
	Type OpType

	Path  string
	Path2 string
	Data  []byte

	Uid   int
	Gid   int
	Mode  uint32
	Flags int

	Offset int64
	Size   int64

	Datasync bool
	Atime    Timespec
	Mtime    Timespec

	// Handle is the recorder-assigned handle_id, or NoHandle if the
	// operation does not reference one.
	Handle int
}
