package sim

import (
	"container/heap"
	"math"

	"github.com/kasuganosora/rotation/game/ai"
)

// Cell is a grid coordinate.
type Cell struct {
	X, Y int
}

// Grid is a passability map. Cells outside the grid are impassable.
type Grid struct {
	Width, Height int
	blocked       map[Cell]bool
}

// NewGrid creates a fully passable grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, blocked: make(map[Cell]bool)}
}

// Block marks cells impassable.
func (g *Grid) Block(cells ...Cell) {
	for _, c := range cells {
		g.blocked[c] = true
	}
}

// Passable reports whether c can be entered.
func (g *Grid) Passable(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Width && c.Y < g.Height && !g.blocked[c]
}

// CellOf maps a world position to its cell.
func CellOf(p ai.Point) Cell {
	return Cell{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// Reachable reports whether a path exists between two positions. A nil grid
// reaches everything.
func (g *Grid) Reachable(a, b ai.Point) bool {
	if g == nil {
		return true
	}
	return g.AStar(CellOf(a), CellOf(b)) != nil
}

type pathNode struct {
	cell   Cell
	g, f   int
	parent *pathNode
}

type openSet []*pathNode

func (s openSet) Len() int           { return len(s) }
func (s openSet) Less(i, j int) bool { return s[i].f < s[j].f }
func (s openSet) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s *openSet) Push(x any)        { *s = append(*s, x.(*pathNode)) }
func (s *openSet) Pop() any {
	old := *s
	n := old[len(old)-1]
	*s = old[:len(old)-1]
	return n
}

func manhattan(a, b Cell) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

var steps = []Cell{{0, 1}, {0, -1}, {1, 0}, {-1, 0}}

// AStar finds the shortest 4-connected path from `from` to `to`.
// Returns the path excluding the start and including the end, an empty
// slice when from == to, and nil if no path exists.
func (g *Grid) AStar(from, to Cell) []Cell {
	if !g.Passable(from) || !g.Passable(to) {
		return nil
	}
	if from == to {
		return []Cell{}
	}

	closed := make(map[Cell]bool)
	gScore := map[Cell]int{from: 0}
	open := &openSet{{cell: from, f: manhattan(from, to)}}

	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		if closed[cur.cell] {
			continue
		}
		closed[cur.cell] = true

		if cur.cell == to {
			var path []Cell
			for n := cur; n.parent != nil; n = n.parent {
				path = append(path, n.cell)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		for _, d := range steps {
			next := Cell{cur.cell.X + d.X, cur.cell.Y + d.Y}
			if closed[next] || !g.Passable(next) {
				continue
			}
			ng := cur.g + 1
			if prev, ok := gScore[next]; !ok || ng < prev {
				gScore[next] = ng
				heap.Push(open, &pathNode{cell: next, g: ng, f: ng + manhattan(next, to), parent: cur})
			}
		}
	}
	return nil
}
