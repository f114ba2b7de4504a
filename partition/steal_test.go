package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStealSkipsHomeAndKeepsOrder(t *testing.T) {

	visited := []int{}

	_, _, found := Steal(4, 2, func(partition int) (int, bool) {
		visited = append(visited, partition)
		return 0, false
	})

	assert.False(t, found)
	assert.Equal(t, []int{0, 1, 3}, visited)
}

func TestStealReturnsFirstMatch(t *testing.T) {

	stock := map[int][]string{1: {"b"}, 3: {"d"}}

	value, origin, found := Steal(4, 0, func(partition int) (string, bool) {
		items := stock[partition]
		if len(items) == 0 {
			return "", false
		}
		return items[0], true
	})

	assert.True(t, found)
	assert.Equal(t, "b", value)
	assert.Equal(t, 1, origin)
}

func TestStealNothingFound(t *testing.T) {

	value, origin, found := Steal(1, 0, func(partition int) (int, bool) {
		return partition, true
	})

	assert.False(t, found)
	assert.Equal(t, 0, value)
	assert.Equal(t, -1, origin)
}
