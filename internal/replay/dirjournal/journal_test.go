package dirjournal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalAppendAndEntriesOrderIsFIFO(t *testing.T) {
	var j Journal
	assert.True(t, j.Empty())

	j.Append(Change{Kind: Link, Name: "a"})
	j.Append(Change{Kind: Unlink, Name: "b"})
	j.Append(Change{Kind: Rename, Name: "c", SecondName: "d"})

	assert.False(t, j.Empty())
	assert.Equal(t, []Change{
		{Kind: Link, Name: "a"},
		{Kind: Unlink, Name: "b"},
		{Kind: Rename, Name: "c", SecondName: "d"},
	}, j.Entries())
}

func TestJournalSynchronizeClearsEntries(t *testing.T) {
	var j Journal
	j.Append(Change{Kind: Link, Name: "a"})
	j.Synchronize()

	assert.True(t, j.Empty())
	assert.Empty(t, j.Entries())
}
