package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kasuganosora/rotation/game/ai"
)

func wall() *Grid {
	g := NewGrid(10, 5)
	for y := 0; y < 4; y++ {
		g.Block(Cell{5, y})
	}
	return g
}

func TestGrid_AStar_Straight(t *testing.T) {
	g := NewGrid(10, 10)
	path := g.AStar(Cell{0, 0}, Cell{3, 0})
	assert.Equal(t, []Cell{{1, 0}, {2, 0}, {3, 0}}, path)
}

func TestGrid_AStar_SameCell(t *testing.T) {
	g := NewGrid(3, 3)
	path := g.AStar(Cell{1, 1}, Cell{1, 1})
	assert.NotNil(t, path)
	assert.Empty(t, path)
}

func TestGrid_AStar_AroundWall(t *testing.T) {
	g := wall()
	path := g.AStar(Cell{4, 0}, Cell{6, 0})
	// down to the gap at y=4, across, and back up
	assert.Len(t, path, 10)
	assert.Equal(t, Cell{6, 0}, path[len(path)-1])
	for _, c := range path {
		assert.True(t, g.Passable(c))
	}
}

func TestGrid_AStar_NoPath(t *testing.T) {
	g := wall()
	g.Block(Cell{5, 4})
	assert.Nil(t, g.AStar(Cell{0, 0}, Cell{9, 0}))
	assert.Nil(t, g.AStar(Cell{0, 0}, Cell{5, 0}))
	assert.Nil(t, g.AStar(Cell{0, 0}, Cell{20, 0}))
}

func TestGrid_Reachable(t *testing.T) {
	g := wall()
	assert.True(t, g.Reachable(ai.Point{X: 1.5, Y: 0.2}, ai.Point{X: 8.9, Y: 1}))
	g.Block(Cell{5, 4})
	assert.False(t, g.Reachable(ai.Point{X: 1.5, Y: 0.2}, ai.Point{X: 8.9, Y: 1}))

	var none *Grid
	assert.True(t, none.Reachable(ai.Point{}, ai.Point{X: 100}))
}
