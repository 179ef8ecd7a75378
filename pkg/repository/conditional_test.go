package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	batches := Chunk(items, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches)
	assert.Nil(t, Chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, Chunk(items, 0))
}

func TestConditionalResult(t *testing.T) {
	value := "row"
	matched := Matched(&value)
	assert.True(t, matched.Matched)
	assert.Equal(t, "row", *matched.Document)

	missed := NotMatched[string](nil)
	assert.False(t, missed.Matched)
	assert.Nil(t, missed.Document)
}
