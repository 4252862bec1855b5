package game

import "fmt"

// 坦克固定尺寸：5 宽 × 3 高
const (
	TankWidth  = 5
	TankHeight = 3
)

// Point 网格坐标
type Point struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Pose 坦克位姿：左上角锚点 + 朝向
type Pose struct {
	X           int
	Y           int
	Orientation Orientation
}

// Stats 坦克属性；Health 允许为负，<=0 即视为死亡
type Stats struct {
	Health int `json:"health" msgpack:"health"`
	Armor  int `json:"armor" msgpack:"armor"`
	Damage int `json:"damage" msgpack:"damage"`
}

// Cooldown 动作冷却配置（start 包中下发给客户端）
type Cooldown struct {
	Type ActionKind `json:"type" msgpack:"type"`
	Val  int        `json:"val" msgpack:"val"`
}

// Tank 服务端权威的坦克实体
type Tank struct {
	ID          string
	Orientation Orientation
	X, Y        int
	Stats       Stats

	cooldowns map[ActionKind]int // 剩余帧数
	durations map[ActionKind]int // 触发后重置的帧数
}

func NewTank(id string) *Tank {
	return &Tank{
		ID:        id,
		cooldowns: map[ActionKind]int{ActionShoot: 0, ActionMove: 0},
		durations: map[ActionKind]int{ActionShoot: 0, ActionMove: 0},
	}
}

// Setup 放到出生点
func (t *Tank) Setup(s Spawn) {
	t.X, t.Y, t.Orientation = s.X, s.Y, s.Orientation
}

// ApplyProperties 根据所选配件设置属性与冷却时长
// 底盘：血量，移动冷却 +底盘/2；装甲：减伤，移动冷却 +装甲；武器：伤害，射击冷却 = 2×伤害
func (t *Tank) ApplyProperties(props []Property) {
	move, shoot := 0, 0
	for _, p := range props {
		switch p.Type {
		case CategoryChassis:
			t.Stats.Health = p.Value
			move += p.Value / 2
		case CategoryArmor:
			t.Stats.Armor = p.Value
			move += p.Value
		case CategoryWeapon:
			t.Stats.Damage = p.Value
			shoot = p.Value * 2
		}
	}
	t.durations[ActionMove] = move
	t.durations[ActionShoot] = shoot
}

func (t *Tank) Pose() Pose {
	return Pose{X: t.X, Y: t.Y, Orientation: t.Orientation}
}

// ApplyAction 执行一帧动作。非法动作直接拒绝且不产生任何副作用；
// 合法动作先让所有冷却减 1，再分派到对应处理。仅 shoot 返回子弹
func (t *Tank) ApplyAction(a Action) (*Bullet, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	for k, v := range t.cooldowns {
		if v > 0 {
			t.cooldowns[k] = v - 1
		}
	}
	switch a.Type {
	case ActionRotate:
		t.rotate(a.Rotation)
	case ActionMove:
		t.move(a.Direction)
	case ActionShoot:
		return t.shoot(a.BulletID), nil
	case ActionNoop:
	}
	return nil, nil
}

// RevertAction 撤销 move/rotate 的位姿变化（方向取反再执行一次），不影响冷却
func (t *Tank) RevertAction(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	switch a.Type {
	case ActionMove:
		t.X, t.Y = t.FuturePosition(-a.Direction)
	case ActionRotate:
		t.Orientation = t.Orientation.Rotate(-a.Rotation)
	default:
		return fmt.Errorf("%w: %q cannot be reverted", ErrInvalidAction, a.Type)
	}
	return nil
}

// ProposeAction 纯函数：返回执行该动作后的位姿，不修改坦克
func (t *Tank) ProposeAction(a Action) Pose {
	p := t.Pose()
	switch a.Type {
	case ActionMove:
		if a.Direction.Valid() {
			p.X, p.Y = t.FuturePosition(a.Direction)
		}
	case ActionRotate:
		if a.Rotation.Valid() {
			p.Orientation = t.Orientation.Rotate(a.Rotation)
		}
	}
	return p
}

// FuturePosition 按当前朝向前进/后退一格后的锚点
func (t *Tank) FuturePosition(d Direction) (int, int) {
	dx, dy := t.Orientation.delta()
	return t.X + dx*int(d), t.Y + dy*int(d)
}

func (t *Tank) rotate(r Rotation) {
	t.Orientation = t.Orientation.Rotate(r)
}

func (t *Tank) move(d Direction) {
	t.cooldowns[ActionMove] = t.durations[ActionMove]
	t.X, t.Y = t.FuturePosition(d)
}

func (t *Tank) shoot(bulletID string) *Bullet {
	t.cooldowns[ActionShoot] = t.durations[ActionShoot]
	muzzle, edge := t.Muzzle()
	b := NewBullet(bulletID, t.ID, t.Orientation, muzzle.X, muzzle.Y)
	b.PrevX, b.PrevY = edge.X, edge.Y
	return b
}

// Muzzle 返回开火时子弹所在格（炮管外第一格）以及炮管末端格
func (t *Tank) Muzzle() (muzzle, edge Point) {
	switch t.Orientation {
	case Up:
		edge = Point{X: t.X + TankWidth/2, Y: t.Y}
	case Down:
		edge = Point{X: t.X + TankWidth/2, Y: t.Y + TankHeight - 1}
	case Left:
		edge = Point{X: t.X, Y: t.Y + TankHeight/2}
	case Right:
		edge = Point{X: t.X + TankWidth - 1, Y: t.Y + TankHeight/2}
	}
	dx, dy := t.Orientation.delta()
	return Point{X: edge.X + dx, Y: edge.Y + dy}, edge
}

// HasCooldown 该类动作是否仍在冷却
func (t *Tank) HasCooldown(kind ActionKind) bool {
	return t.cooldowns[kind] > 0
}

func (t *Tank) CooldownLeft(kind ActionKind) int { return t.cooldowns[kind] }

func (t *Tank) CanShoot() bool { return !t.HasCooldown(ActionShoot) }

// DefaultCooldowns 各动作的冷却时长配置
func (t *Tank) DefaultCooldowns() []Cooldown {
	return []Cooldown{
		{Type: ActionShoot, Val: t.durations[ActionShoot]},
		{Type: ActionMove, Val: t.durations[ActionMove]},
	}
}

// TakeDamage 每点装甲抵消 1 点伤害，不会回血
func (t *Tank) TakeDamage(amount int) {
	amount -= t.Stats.Armor
	if amount <= 0 {
		return
	}
	t.Stats.Health -= amount
}

func (t *Tank) Health() int { return t.Stats.Health }

func (t *Tank) Dead() bool { return t.Stats.Health <= 0 }

// Footprint 当前占用的绝对坐标
func (t *Tank) Footprint() []Point {
	return FootprintAt(t.Pose())
}

// FootprintAt 任意位姿下的占用坐标：整个 5×3 外框，与朝向无关
func FootprintAt(p Pose) []Point {
	out := make([]Point, 0, TankWidth*TankHeight)
	for y := 0; y < TankHeight; y++ {
		for x := 0; x < TankWidth; x++ {
			out = append(out, Point{X: p.X + x, Y: p.Y + y})
		}
	}
	return out
}
