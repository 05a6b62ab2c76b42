package models

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkKeyOrdering(t *testing.T) {
	// Keys must sort lexicographically in chunk-index order so store
	// iteration yields chunks in sequence.
	keys := []string{
		ChunkKey("job_x", 10),
		ChunkKey("job_x", 2),
		ChunkKey("job_x", 0),
		ChunkKey("job_x", 100),
	}
	sort.Strings(keys)

	assert.Equal(t, []string{
		"job_x:000000",
		"job_x:000002",
		"job_x:000010",
		"job_x:000100",
	}, keys)
}

func TestChunkContainsPage(t *testing.T) {
	c := &Chunk{PageStart: 5, PageEnd: 9}

	assert.True(t, c.ContainsPage(5))
	assert.True(t, c.ContainsPage(7))
	assert.True(t, c.ContainsPage(9))
	assert.False(t, c.ContainsPage(4))
	assert.False(t, c.ContainsPage(10))
	assert.Equal(t, 5, c.PageSpan())
}
