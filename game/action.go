package game

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAction    = errors.New("invalid action")
	ErrInvalidRotation  = errors.New("invalid rotation")
	ErrInvalidDirection = errors.New("invalid direction")
)

// Orientation 朝向（角度）
type Orientation int

const (
	Up    Orientation = 0
	Right Orientation = 90
	Down  Orientation = 180
	Left  Orientation = 270
)

func (o Orientation) Valid() bool {
	switch o {
	case Up, Right, Down, Left:
		return true
	}
	return false
}

// Rotate 旋转并归一化到 [0,360)
func (o Orientation) Rotate(r Rotation) Orientation {
	v := (int(o) + int(r)) % 360
	if v < 0 {
		v += 360
	}
	return Orientation(v)
}

// delta 朝向上的单位位移（y 轴向下）
func (o Orientation) delta() (dx, dy int) {
	switch o {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// Rotation 每次只能转 90 度
type Rotation int

const (
	RotateLeft  Rotation = -90
	RotateRight Rotation = 90
)

func (r Rotation) Valid() bool { return r == RotateLeft || r == RotateRight }

// Direction 相对朝向的前进/后退
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) Valid() bool { return d == Forward || d == Backward }

// ActionKind 每帧允许的动作
type ActionKind string

const (
	ActionRotate ActionKind = "rotate"
	ActionMove   ActionKind = "move"
	ActionShoot  ActionKind = "shoot"
	ActionNoop   ActionKind = "noop"
)

// Action 客户端提交的单帧动作；ID 与 BulletID 由服务端填写
type Action struct {
	Type      ActionKind `json:"type" msgpack:"type"`
	ID        string     `json:"id,omitempty" msgpack:"id,omitempty"`
	Rotation  Rotation   `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Direction Direction  `json:"direction,omitempty" msgpack:"direction,omitempty"`
	BulletID  string     `json:"bulletID,omitempty" msgpack:"bulletID,omitempty"`
}

// Validate 结构校验：类型必须已知，rotate/move 的取值必须在枚举内
func (a Action) Validate() error {
	switch a.Type {
	case ActionRotate:
		if !a.Rotation.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidRotation, a.Rotation)
		}
	case ActionMove:
		if !a.Direction.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidDirection, a.Direction)
		}
	case ActionShoot, ActionNoop:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

// Noop 为指定坦克构造空动作
func Noop(id string) Action { return Action{Type: ActionNoop, ID: id} }

// 广播事件类型（坦克动作沿用 ActionKind 的取值）
const (
	EventDestroy    = "destroy"
	EventBulletMove = "bullet_move"
)

// Event 每帧广播给所有玩家的结果：坦克动作记录、子弹移动或销毁
type Event struct {
	Type      string    `json:"type" msgpack:"type"`
	ID        string    `json:"id" msgpack:"id"`
	Rotation  Rotation  `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Direction Direction `json:"direction,omitempty" msgpack:"direction,omitempty"`
	BulletID  string    `json:"bulletID,omitempty" msgpack:"bulletID,omitempty"`
	Speed     int       `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Health    *int      `json:"health,omitempty" msgpack:"health,omitempty"`
}

func actionEvent(a Action) Event {
	return Event{
		Type:      string(a.Type),
		ID:        a.ID,
		Rotation:  a.Rotation,
		Direction: a.Direction,
		BulletID:  a.BulletID,
	}
}
