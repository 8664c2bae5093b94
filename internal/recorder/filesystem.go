// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package recorder is the out-of-scope-but-specified interception layer
// from spec.md §1: a thin FUSE passthrough filesystem, built on
// jacobsa/fuse the way gcsfuse's fs package is, that forwards every call to
// an underlying directory and appends one oplog record per mutating call.
//
// Every method here is grounded on dsfs_record.cpp's fuse_operations table.
// Logged: mkdir, unlink, rmdir, symlink, rename, link, chmod, truncate,
// create, open, write, release, fsync and utimens. A size change arrives
// through SetInodeAttributes and is logged as truncate, so no ftruncate
// record is ever written. Passed through without logging: lookup, getattr,
// readdir and read; statfs answers with zeroed statistics. access, readlink
// and fallocate are not implemented (the embedded NotImplementedFileSystem
// rejects them). jacobsa/fuse's
// SetInodeAttributesOp does not surface uid/gid the way libfuse's separate
// .chown callback did, so CHOWN records can't originate from this recorder;
// the replayer still accepts them for logs produced another way.
package recorder

import (
	"context"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/crashconsistency/dsfs/internal/logger"
	"github.com/crashconsistency/dsfs/internal/oplog"
)

// entry is what the recorder tracks per inode: its recorded (virtual) path
// and whether it is a directory. The host path is always
// underlyingDir+recorded path.
type entry struct {
	path  string
	isDir bool
}

// FileSystem is a passthrough fuseutil.FileSystem that mirrors every
// mutating call into underlyingDir and appends a record to its oplog.Writer.
// Handle IDs are the live recorder-side host file descriptor, exactly as
// dsfs_record.cpp stashes fi->fh -- so there is no separate handle table.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	underlyingDir string
	echo          bool

	writerMu sync.Mutex
	writer   *oplog.Writer

	inodesMu    sync.Mutex
	inodes      map[fuseops.InodeID]*entry
	nextInodeID uint64
}

var _ fuseutil.FileSystem = &FileSystem{}

// New returns a recorder filesystem rooted at underlyingDir, logging through
// w. If echo is true, every logged record is also noted in the diagnostic
// log with a fixed "recorded operation" line at Debugf level; the record's
// content is not included.
func New(underlyingDir string, w *oplog.Writer, echo bool) *FileSystem {
	fs := &FileSystem{
		underlyingDir: underlyingDir,
		echo:          echo,
		writer:        w,
		inodes:        make(map[fuseops.InodeID]*entry),
		nextInodeID:   uint64(fuseops.RootInodeID) + 1,
	}
	fs.inodes[fuseops.RootInodeID] = &entry{path: "/", isDir: true}
	return fs
}

// NewServer wraps a FileSystem in a fuse.Server, matching roloopbackfs's
// NewReadonlyLoopbackServer constructor shape.
func NewServer(underlyingDir string, w *oplog.Writer, echo bool) fuse.Server {
	return fuseutil.NewFileSystemServer(New(underlyingDir, w, echo))
}

func (fs *FileSystem) hostPath(recorded string) string {
	return path.Join(fs.underlyingDir, recorded)
}

func (fs *FileSystem) childPath(parent fuseops.InodeID, name string) (string, error) {
	fs.inodesMu.Lock()
	p, ok := fs.inodes[parent]
	fs.inodesMu.Unlock()
	if !ok {
		return "", fuse.ENOENT
	}
	return path.Join(p.path, name), nil
}

func (fs *FileSystem) mintInode(recorded string, isDir bool) fuseops.InodeID {
	fs.inodesMu.Lock()
	defer fs.inodesMu.Unlock()
	id := fuseops.InodeID(atomic.AddUint64(&fs.nextInodeID, 1) - 1)
	fs.inodes[id] = &entry{path: recorded, isDir: isDir}
	return id
}

func (fs *FileSystem) pathOf(id fuseops.InodeID) (string, error) {
	fs.inodesMu.Lock()
	e, ok := fs.inodes[id]
	fs.inodesMu.Unlock()
	if !ok {
		return "", fuse.ENOENT
	}
	return e.path, nil
}

func (fs *FileSystem) rememberPath(id fuseops.InodeID, recorded string) {
	fs.inodesMu.Lock()
	if e, ok := fs.inodes[id]; ok {
		e.path = recorded
	}
	fs.inodesMu.Unlock()
}

func attributesFor(st os.FileInfo) fuseops.InodeAttributes {
	sys := st.Sys().(*unix.Stat_t)
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size()),
		Nlink: uint32(sys.Nlink),
		Mode:  st.Mode(),
		Uid:   sys.Uid,
		Gid:   sys.Gid,
	}
}

// emit appends one record and, when --echo is set, logs a fixed
// "recorded operation" line at Debugf (without the record's content).
func (fs *FileSystem) emit(build func(w *oplog.Writer)) {
	fs.writerMu.Lock()
	build(fs.writer)
	err := fs.writer.Flush()
	fs.writerMu.Unlock()
	if err != nil {
		logger.Errorf("flushing oplog record: %v", err)
	}
	if fs.echo {
		logger.Debugf("recorded operation")
	}
}

////////////////////////////////////////////////////////////////////////
// Unlogged passthrough (lookup, getattr, readdir, statfs)
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	st, err := os.Lstat(fs.hostPath(recorded))
	if os.IsNotExist(err) {
		return fuse.ENOENT
	}
	if err != nil {
		return fuse.EIO
	}

	id := fs.mintInode(recorded, st.IsDir())
	op.Entry.Child = id
	op.Entry.Attributes = attributesFor(st)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	st, err := os.Lstat(fs.hostPath(recorded))
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = attributesFor(st)
	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.inodesMu.Lock()
	delete(fs.inodes, op.ID)
	fs.inodesMu.Unlock()
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fd, err := unix.Open(fs.hostPath(recorded), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return fuse.EIO
	}
	op.Handle = fuseops.HandleID(fd)
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	children, err := os.ReadDir(fs.hostPath(recorded))
	if err != nil {
		return fuse.EIO
	}
	if int(op.Offset) > len(children) {
		return nil
	}
	children = children[op.Offset:]

	for _, child := range children {
		childID := fs.mintInode(path.Join(recorded, child.Name()), child.IsDir())
		dirent := fuseutil.Dirent{
			Offset: op.Offset + 1,
			Inode:  childID,
			Name:   child.Name(),
			Type:   fuseutil.DT_File,
		}
		if child.IsDir() {
			dirent.Type = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
		op.Offset++
	}
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	unix.Close(int(op.Handle))
	return nil
}

////////////////////////////////////////////////////////////////////////
// Namespace mutations (logged)
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := unix.Mkdir(fs.hostPath(recorded), uint32(op.Mode.Perm())); err != nil {
		return fuse.EIO
	}
	id := fs.mintInode(recorded, true)
	op.Entry.Child = id
	st, _ := os.Lstat(fs.hostPath(recorded))
	op.Entry.Attributes = attributesFor(st)

	fs.emit(func(w *oplog.Writer) { w.Mkdir(recorded, uint32(op.Mode.Perm())) })
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	fd, err := unix.Open(fs.hostPath(recorded), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, uint32(op.Mode.Perm()))
	if err != nil {
		return fuse.EEXIST
	}
	op.Handle = fuseops.HandleID(fd)

	id := fs.mintInode(recorded, false)
	op.Entry.Child = id
	var st unix.Stat_t
	unix.Fstat(fd, &st)
	op.Entry.Attributes = fuseops.InodeAttributes{
		Size: uint64(st.Size), Nlink: uint32(st.Nlink),
		Mode: op.Mode, Uid: st.Uid, Gid: st.Gid,
	}

	fs.emit(func(w *oplog.Writer) {
		w.Create(recorded, int(unix.O_RDWR|unix.O_CREAT), uint32(op.Mode.Perm()), fd)
	})
	return nil
}

func (fs *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := unix.Symlink(op.Target, fs.hostPath(recorded)); err != nil {
		return fuse.EEXIST
	}
	id := fs.mintInode(recorded, false)
	op.Entry.Child = id
	st, _ := os.Lstat(fs.hostPath(recorded))
	op.Entry.Attributes = attributesFor(st)

	fs.emit(func(w *oplog.Writer) { w.Symlink(op.Target, recorded) })
	return nil
}

func (fs *FileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	targetPath, err := fs.pathOf(op.Target)
	if err != nil {
		return err
	}
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := unix.Link(fs.hostPath(targetPath), fs.hostPath(recorded)); err != nil {
		return fuse.EIO
	}
	op.Entry.Child = op.Target
	st, _ := os.Lstat(fs.hostPath(recorded))
	op.Entry.Attributes = attributesFor(st)

	fs.emit(func(w *oplog.Writer) { w.Link(targetPath, recorded) })
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldRecorded, err := fs.childPath(op.OldParent, op.OldName)
	if err != nil {
		return err
	}
	newRecorded, err := fs.childPath(op.NewParent, op.NewName)
	if err != nil {
		return err
	}
	if err := unix.Rename(fs.hostPath(oldRecorded), fs.hostPath(newRecorded)); err != nil {
		return fuse.EIO
	}

	fs.emit(func(w *oplog.Writer) { w.Rename(oldRecorded, newRecorded) })
	return nil
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := unix.Rmdir(fs.hostPath(recorded)); err != nil {
		return fuse.EIO
	}
	fs.emit(func(w *oplog.Writer) { w.Rmdir(recorded) })
	return nil
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	recorded, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(fs.hostPath(recorded)); err != nil {
		return fuse.EIO
	}
	fs.emit(func(w *oplog.Writer) { w.Unlink(recorded) })
	return nil
}

// SetInodeAttributes covers chmod(2), truncate(2), and utimensat(2); see the
// package doc comment for why chown(2) cannot be logged through this op.
func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	hostPath := fs.hostPath(recorded)

	if op.Mode != nil {
		if err := unix.Chmod(hostPath, uint32(op.Mode.Perm())); err != nil {
			return fuse.EIO
		}
		mode := uint32(op.Mode.Perm())
		fs.emit(func(w *oplog.Writer) { w.Chmod(recorded, mode) })
	}

	if op.Size != nil {
		if err := unix.Truncate(hostPath, int64(*op.Size)); err != nil {
			return fuse.EIO
		}
		size := int64(*op.Size)
		fs.emit(func(w *oplog.Writer) { w.Truncate(recorded, size) })
	}

	if op.Atime != nil || op.Mtime != nil {
		var atime, mtime oplog.Timespec
		if op.Atime != nil {
			atime = oplog.Timespec{Sec: op.Atime.Unix(), Nsec: int64(op.Atime.Nanosecond())}
		}
		if op.Mtime != nil {
			mtime = oplog.Timespec{Sec: op.Mtime.Unix(), Nsec: int64(op.Mtime.Nanosecond())}
		}
		ts := []unix.Timespec{{Sec: atime.Sec, Nsec: atime.Nsec}, {Sec: mtime.Sec, Nsec: mtime.Nsec}}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, hostPath, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fuse.EIO
		}
		fs.emit(func(w *oplog.Writer) { w.Utimens(recorded, atime, mtime) })
	}

	st, err := os.Lstat(hostPath)
	if err != nil {
		return fuse.EIO
	}
	op.Attributes = attributesFor(st)
	return nil
}

////////////////////////////////////////////////////////////////////////
// File handles (logged except read)
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fd, err := unix.Open(fs.hostPath(recorded), unix.O_RDWR, 0)
	if err != nil {
		return fuse.EIO
	}
	op.Handle = fuseops.HandleID(fd)
	fs.emit(func(w *oplog.Writer) { w.Open(recorded, unix.O_RDWR, fd) })
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fd := int(op.Handle)
	n, err := unix.Pread(fd, op.Dst, op.Offset)
	if err != nil {
		return fuse.EIO
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fd := int(op.Handle)
	if _, err := unix.Pwrite(fd, op.Data, op.Offset); err != nil {
		return fuse.EIO
	}
	data := append([]byte(nil), op.Data...)
	offset := op.Offset
	fs.emit(func(w *oplog.Writer) { w.Write(recorded, data, offset, fd) })
	return nil
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	recorded, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fd := int(op.Handle)
	if err := unix.Fsync(fd); err != nil {
		return fuse.EIO
	}
	fs.emit(func(w *oplog.Writer) { w.Fsync(recorded, false, fd) })
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fd := int(op.Handle)
	unix.Close(fd)
	fs.emit(func(w *oplog.Writer) { w.Release(fd) })
	return nil
}
