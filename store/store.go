// Package store 持久化：配件目录、地图、对局记录与积分
package store

import (
	"errors"
	"fmt"

	"tankarena/game"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidProperty = errors.New("invalid tank property")
	ErrInvalidMap      = errors.New("invalid map")
)

// 对局状态
const (
	SessionRunning  = 0
	SessionFinished = 1
)

// MapRecord 地图记录
type MapRecord struct {
	ID     string       `json:"id"`
	Cells  [][]int      `json:"map"`
	Spawns []game.Spawn `json:"spawns"`
}

// Session 对局记录及参与玩家
type Session struct {
	ID      string   `json:"id"`
	Map     string   `json:"map"`
	Status  int      `json:"status"`
	Players []string `json:"players"`
}

// SessionUpdate 只更新非 nil 字段
type SessionUpdate struct {
	Map    *string
	Status *int
}

// Score 玩家战绩
type Score struct {
	PlayerID string `json:"player_id"`
	Wins     int    `json:"wins"`
	Loses    int    `json:"loses"`
}

func validateProperty(typ game.PropertyCategory, value int) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidProperty, typ)
	}
	if value < 0 {
		return fmt.Errorf("%w: value %d must be >= 0", ErrInvalidProperty, value)
	}
	return nil
}

func validateMap(cells [][]int, spawns []game.Spawn) error {
	if _, err := game.NewGridMap(cells, spawns); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	return nil
}

// scoreDelta 正数记胜、负数记负、0 忽略；单次最多记 1
func scoreDelta(score int) (wins, loses int) {
	switch {
	case score > 0:
		return 1, 0
	case score < 0:
		return 0, 1
	}
	return 0, 0
}

// defaultProperties 初始配件目录
func defaultProperties() []game.Property {
	return []game.Property{
		{Type: game.CategoryChassis, Value: 10},
		{Type: game.CategoryChassis, Value: 20},
		{Type: game.CategoryChassis, Value: 30},
		{Type: game.CategoryArmor, Value: 0},
		{Type: game.CategoryArmor, Value: 3},
		{Type: game.CategoryArmor, Value: 6},
		{Type: game.CategoryWeapon, Value: 10},
		{Type: game.CategoryWeapon, Value: 20},
	}
}

// DefaultMap 60x30 带边框的默认地图，上下各两段横墙，两个出生点
func DefaultMap() MapRecord {
	const width, height = 60, 30
	cells := make([][]int, height)
	for y := range cells {
		cells[y] = make([]int, width)
		for x := range cells[y] {
			if x == 0 || y == 0 || x == width-1 || y == height-1 {
				cells[y][x] = 1
			}
		}
	}
	for x := 0; x < width; x++ {
		if (x > 10 && x < 20) || (x > 40 && x < 50) {
			cells[8][x] = 1
			cells[22][x] = 1
		}
	}
	return MapRecord{
		Cells: cells,
		Spawns: []game.Spawn{
			{X: 1, Y: 1, Orientation: game.Down},
			{X: 54, Y: 26, Orientation: game.Up},
		},
	}
}
