package game

type occupantKind int

const (
	occNone occupantKind = iota
	occWall
	occTank
	occBullet
)

type occupant struct {
	kind occupantKind
	id   string
}

// collisionGrid 每次检测时从地图模板复制出的占用快照，越界一律视为墙
type collisionGrid struct {
	width, height int
	cells         []occupant
}

func newCollisionGrid(m *GridMap) *collisionGrid {
	g := &collisionGrid{width: m.Width(), height: m.Height()}
	g.cells = make([]occupant, g.width*g.height)
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if m.CellAt(x, y) == CellBlocked {
				g.cells[y*g.width+x] = occupant{kind: occWall}
			}
		}
	}
	return g
}

func (g *collisionGrid) at(x, y int) occupant {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return occupant{kind: occWall}
	}
	return g.cells[y*g.width+x]
}

func (g *collisionGrid) mark(p Point, o occupant) {
	if p.X < 0 || p.Y < 0 || p.X >= g.width || p.Y >= g.height {
		return
	}
	g.cells[p.Y*g.width+p.X] = o
}

// firstHit 返回 cells 中第一个被占用的格子
func (g *collisionGrid) firstHit(cells []Point) (occupant, bool) {
	for _, c := range cells {
		if o := g.at(c.X, c.Y); o.kind != occNone {
			return o, true
		}
	}
	return occupant{}, false
}
