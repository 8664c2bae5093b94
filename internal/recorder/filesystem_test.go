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

package recorder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashconsistency/dsfs/internal/oplog"
)

func newTestFS(t *testing.T) (*FileSystem, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	fs := New(t.TempDir(), oplog.NewWriter(&buf), false)
	return fs, &buf
}

func lookUp(t *testing.T, fs *FileSystem, parent fuseops.InodeID, name string) fuseops.InodeID {
	t.Helper()
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	require.NoError(t, fs.LookUpInode(context.Background(), op))
	return op.Entry.Child
}

func TestMkDirCreateWriteReleaseRecordsOps(t *testing.T) {
	fs, buf := newTestFS(t)
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mkdirOp))

	dirID := lookUp(t, fs, fuseops.RootInodeID, "d")
	require.True(t, dirID != 0)

	createOp := &fuseops.CreateFileOp{Parent: dirID, Name: "f.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	require.NotZero(t, createOp.Handle)

	fileID := createOp.Entry.Child
	writeOp := &fuseops.WriteFileOp{Inode: fileID, Handle: createOp.Handle, Data: []byte("hello"), Offset: 0}
	require.NoError(t, fs.WriteFile(ctx, writeOp))

	syncOp := &fuseops.SyncFileOp{Inode: fileID, Handle: createOp.Handle}
	require.NoError(t, fs.SyncFile(ctx, syncOp))

	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}
	require.NoError(t, fs.ReleaseFileHandle(ctx, releaseOp))

	got, err := os.ReadFile(filepath.Join(fs.underlyingDir, "d", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	p := oplog.NewParser(buf)

	op, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.MKDIR, op.Type)
	assert.Equal(t, "/d", op.Path)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.CREATE, op.Type)
	assert.Equal(t, "/d/f.txt", op.Path)
	assert.Equal(t, int(createOp.Handle), op.Handle)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.WRITE, op.Type)
	assert.Equal(t, []byte("hello"), op.Data)
	assert.Equal(t, int(createOp.Handle), op.Handle)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.FSYNC, op.Type)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.RELEASE, op.Type)
	assert.Equal(t, int(createOp.Handle), op.Handle)
}

func TestRenameUnlinkRmDirRecordsOps(t *testing.T) {
	fs, buf := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, fs.MkDir(ctx, &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: 0755}))
	dirID := lookUp(t, fs, fuseops.RootInodeID, "d")

	createOp := &fuseops.CreateFileOp{Parent: dirID, Name: "a.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	require.NoError(t, fs.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	require.NoError(t, fs.Rename(ctx, &fuseops.RenameOp{
		OldParent: dirID, OldName: "a.txt",
		NewParent: dirID, NewName: "b.txt",
	}))

	_, err := os.Stat(filepath.Join(fs.underlyingDir, "d", "a.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(fs.underlyingDir, "d", "b.txt"))
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: dirID, Name: "b.txt"}))
	require.NoError(t, fs.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}))

	p := oplog.NewParser(buf)

	op, err := p.Next() // mkdir
	require.NoError(t, err)
	assert.Equal(t, oplog.MKDIR, op.Type)

	op, err = p.Next() // create
	require.NoError(t, err)
	assert.Equal(t, oplog.CREATE, op.Type)

	op, err = p.Next() // release
	require.NoError(t, err)
	assert.Equal(t, oplog.RELEASE, op.Type)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.RENAME, op.Type)
	assert.Equal(t, "/d/a.txt", op.Path)
	assert.Equal(t, "/d/b.txt", op.Path2)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.UNLINK, op.Type)
	assert.Equal(t, "/d/b.txt", op.Path)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.RMDIR, op.Type)
	assert.Equal(t, "/d", op.Path)
}

func TestSetInodeAttributesRecordsChmodAndTruncate(t *testing.T) {
	fs, buf := newTestFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	fileID := createOp.Entry.Child

	mode := os.FileMode(0600)
	require.NoError(t, fs.SetInodeAttributes(ctx, &fuseops.SetInodeAttributesOp{Inode: fileID, Mode: &mode}))

	size := uint64(0)
	require.NoError(t, fs.SetInodeAttributes(ctx, &fuseops.SetInodeAttributesOp{Inode: fileID, Size: &size}))

	p := oplog.NewParser(buf)

	op, err := p.Next() // create
	require.NoError(t, err)
	assert.Equal(t, oplog.CREATE, op.Type)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.CHMOD, op.Type)
	assert.Equal(t, uint32(0600), op.Mode)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.TRUNCATE, op.Type)
	assert.Equal(t, int64(0), op.Size)

	info, err := os.Stat(filepath.Join(fs.underlyingDir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, int64(0), info.Size())
}

func TestCreateSymlinkAndCreateLinkRecordOps(t *testing.T) {
	fs, buf := newTestFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "target.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	require.NoError(t, fs.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))
	targetID := createOp.Entry.Child

	symlinkOp := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link.txt", Target: "target.txt"}
	require.NoError(t, fs.CreateSymlink(ctx, symlinkOp))

	linkOp := &fuseops.CreateLinkOp{Parent: fuseops.RootInodeID, Name: "hard.txt", Target: targetID}
	require.NoError(t, fs.CreateLink(ctx, linkOp))
	assert.Equal(t, targetID, linkOp.Entry.Child)

	p := oplog.NewParser(buf)

	op, err := p.Next() // create
	require.NoError(t, err)
	assert.Equal(t, oplog.CREATE, op.Type)

	op, err = p.Next() // release
	require.NoError(t, err)
	assert.Equal(t, oplog.RELEASE, op.Type)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.SYMLINK, op.Type)
	assert.Equal(t, "target.txt", op.Path)
	assert.Equal(t, "/link.txt", op.Path2)

	op, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, oplog.LINK, op.Type)
	assert.Equal(t, "/target.txt", op.Path)
	assert.Equal(t, "/hard.txt", op.Path2)
}

func TestOpenFileReadFileDoesNotRecordRead(t *testing.T) {
	fs, buf := newTestFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f.txt", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, createOp))
	require.NoError(t, fs.WriteFile(ctx, &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Handle: createOp.Handle, Data: []byte("abc")}))
	require.NoError(t, fs.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	openOp := &fuseops.OpenFileOp{Inode: createOp.Entry.Child}
	require.NoError(t, fs.OpenFile(ctx, openOp))

	readOp := &fuseops.ReadFileOp{Handle: openOp.Handle, Dst: make([]byte, 3)}
	require.NoError(t, fs.ReadFile(ctx, readOp))
	assert.Equal(t, 3, readOp.BytesRead)

	require.NoError(t, fs.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))

	p := oplog.NewParser(buf)
	types := []oplog.OpType{}
	for {
		op, err := p.Next()
		if err != nil {
			break
		}
		types = append(types, op.Type)
	}
	// create, write, release, open, release -- no read record in between.
	assert.Equal(t, []oplog.OpType{oplog.CREATE, oplog.WRITE, oplog.RELEASE, oplog.OPEN, oplog.RELEASE}, types)
}
