package game

import (
	"errors"
	"fmt"
)

// ErrInvalidMap 地图数据不合法（非矩形、含 0/1 以外的值、出生点朝向非法）
var ErrInvalidMap = errors.New("invalid map")

// Cell 地图格子状态
type Cell int

const (
	CellFree Cell = iota
	CellBlocked
	CellOutOfBounds
)

// Spawn 出生点：坦克左上角锚点 + 初始朝向
type Spawn struct {
	X           int         `json:"x" msgpack:"x"`
	Y           int         `json:"y" msgpack:"y"`
	Orientation Orientation `json:"orientation" msgpack:"orientation"`
}

// GridMap 只读的占用网格（0 = 空地，1 = 障碍），构造后不可修改
type GridMap struct {
	cells  [][]int
	spawns []Spawn
	width  int
	height int
}

// NewGridMap 校验并构造地图；cells 与 spawns 会被复制，调用方之后的修改不会影响地图
func NewGridMap(cells [][]int, spawns []Spawn) (*GridMap, error) {
	if len(cells) == 0 || len(cells[0]) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrInvalidMap)
	}
	width := len(cells[0])
	cp := make([][]int, len(cells))
	for y, row := range cells {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidMap, y, len(row), width)
		}
		for x, v := range row {
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("%w: cell (%d,%d) = %d", ErrInvalidMap, x, y, v)
			}
		}
		cp[y] = append([]int(nil), row...)
	}
	for i, s := range spawns {
		if !s.Orientation.Valid() {
			return nil, fmt.Errorf("%w: spawn %d orientation %d", ErrInvalidMap, i, s.Orientation)
		}
	}
	return &GridMap{
		cells:  cp,
		spawns: append([]Spawn(nil), spawns...),
		width:  width,
		height: len(cp),
	}, nil
}

func (m *GridMap) Width() int  { return m.width }
func (m *GridMap) Height() int { return m.height }

// SpawnCount 出生点数量，决定地图可容纳的玩家数
func (m *GridMap) SpawnCount() int { return len(m.spawns) }

// SpawnAt 返回第 index 个出生点
func (m *GridMap) SpawnAt(index int) (Spawn, bool) {
	if index < 0 || index >= len(m.spawns) {
		return Spawn{}, false
	}
	return m.spawns[index], true
}

// InBounds 坐标是否落在地图内
func (m *GridMap) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

func (m *GridMap) CellAt(x, y int) Cell {
	if !m.InBounds(x, y) {
		return CellOutOfBounds
	}
	if m.cells[y][x] != 0 {
		return CellBlocked
	}
	return CellFree
}

// Raw 返回格子矩阵的深拷贝（用于 start 包）
func (m *GridMap) Raw() [][]int {
	out := make([][]int, len(m.cells))
	for y, row := range m.cells {
		out[y] = append([]int(nil), row...)
	}
	return out
}
