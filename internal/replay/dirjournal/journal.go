// Package dirjournal implements the per-directory tentative undo log of
// namespace mutations described in spec.md §4.4.
package dirjournal

// ChangeKind identifies the shape of one tentative namespace mutation.
type ChangeKind int

const (
	Link ChangeKind = iota
	Unlink
	Rename
)

// Change is one entry appended to a directory's journal.
type Change struct {
	Kind       ChangeKind
	Name       string
	SecondName string // only meaningful for Rename
}

// Journal is the FIFO of tentative changes for one directory inode,
// retained until the directory is synchronized.
type Journal struct {
	entries []Change
}

// Append records one tentative change.
func (j *Journal) Append(c Change) {
	j.entries = append(j.entries, c)
}

// Synchronize declares every tentative change committed and clears the
// journal.
func (j *Journal) Synchronize() {
	j.entries = nil
}

// Entries returns the journal's current FIFO, oldest first. The caller must
// not mutate the returned slice.
func (j *Journal) Entries() []Change {
	return j.entries
}

// Empty reports whether the journal has no uncommitted entries.
func (j *Journal) Empty() bool {
	return len(j.entries) == 0
}
