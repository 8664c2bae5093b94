package replay

import (
	"fmt"

	"github.com/crashconsistency/dsfs/internal/replay/dirjournal"
	"github.com/crashconsistency/dsfs/internal/replay/sectorcache"
)

// Inode is the capability set spec.md §3/§9 describes: every inode variant
// can apply a data-carrying write, a truncate, flush its unpersisted state
// on synchronize, and discard that state on a simulated crash.
//
// This is a closed sum type: the two variants below are the only
// implementations, and isInode is unexported so no other package can add a
// third. The driver dispatches through the interface methods; its one type
// switch (the variant-stability check in inodeFor) has no default case, so
// the compiler does not flag a variant it leaves unhandled.
type Inode interface {
	ApplyWrite(fd int, data []byte, offset int64) error
	ApplyTruncate(fd int, size int64) error
	Synchronize(fd int) error
	ForgetUnpersisted() (lost int, err error)

	isInode()
}

// FileInode is the regular-file variant: it owns a sector cache modeling
// buffered, not-yet-persisted writes.
type FileInode struct {
	cache *sectorcache.Cache
}

// NewFileInode returns a file inode using the given sector size and
// writeback policy.
func NewFileInode(sectorSize int, mode sectorcache.WritebackMode) *FileInode {
	return &FileInode{cache: sectorcache.New(sectorSize, mode)}
}

func (f *FileInode) isInode() {}

// ApplyWrite writes through the sector cache.
func (f *FileInode) ApplyWrite(fd int, data []byte, offset int64) error {
	return f.cache.Write(fd, data, offset)
}

// ApplyTruncate is the declared-but-unimplemented truncate-buffering hook
// from spec.md §9: a regular-file truncate is always applied directly by
// the caller, with no way to undo it on crash. Reimplementers that want to
// journal the pre-truncate tail should start here.
func (f *FileInode) ApplyTruncate(fd int, size int64) error {
	return &UnimplementedError{Msg: "delayed commit of truncate is not modeled"}
}

// Synchronize flushes every buffered sector to fd.
func (f *FileInode) Synchronize(fd int) error {
	return f.cache.Synchronize(fd)
}

// ForgetUnpersisted discards every buffered sector and returns how many
// were lost.
func (f *FileInode) ForgetUnpersisted() (int, error) {
	return f.cache.Forget(), nil
}

// DirInode is the directory variant: it owns a journal of tentative
// namespace mutations.
type DirInode struct {
	Path    string
	Journal dirjournal.Journal
}

// NewDirInode returns a directory inode rooted at the given recorded path.
func NewDirInode(path string) *DirInode {
	return &DirInode{Path: path}
}

func (d *DirInode) isInode() {}

// ApplyWrite is never legal against a directory.
func (d *DirInode) ApplyWrite(fd int, data []byte, offset int64) error {
	return fmt.Errorf("cannot write to directory %s", d.Path)
}

// ApplyTruncate is never legal against a directory.
func (d *DirInode) ApplyTruncate(fd int, size int64) error {
	return fmt.Errorf("cannot truncate directory %s", d.Path)
}

// Synchronize declares the journal committed.
func (d *DirInode) Synchronize(fd int) error {
	d.Journal.Synchronize()
	return nil
}

// ForgetUnpersisted is the directory-journal-rollback hook from spec.md §9:
// the journal is maintained but never replayed in reverse on crash (§9), so
// no namespace change is undone and no error is returned, whatever the
// journal holds. The only effect is that the journal is cleared, so a later
// Synchronize doesn't flush entries that were already "lost".
func (d *DirInode) ForgetUnpersisted() (int, error) {
	d.Journal.Synchronize()
	return 0, nil
}
