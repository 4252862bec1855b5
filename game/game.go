package game

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotEnoughSpawns 地图出生点少于坦克数量
var ErrNotEnoughSpawns = errors.New("map has fewer spawns than tanks")

// TankInit start 包中单个坦克的初始化数据
type TankInit struct {
	ID          string      `json:"id" msgpack:"id"`
	Orientation Orientation `json:"orientation" msgpack:"orientation"`
	Enemy       bool        `json:"enemy" msgpack:"enemy"`
	X           int         `json:"x" msgpack:"x"`
	Y           int         `json:"y" msgpack:"y"`
	Stats       Stats       `json:"stats" msgpack:"stats"`
	Cooldowns   []Cooldown  `json:"cooldowns" msgpack:"cooldowns"`
}

// StartPacket 开局快照：自己、敌人和地图
type StartPacket struct {
	Player  TankInit   `json:"player" msgpack:"player"`
	Enemies []TankInit `json:"enemies" msgpack:"enemies"`
	Map     [][]int    `json:"map" msgpack:"map"`
}

// Game 单局的帧结算器：持有坦克与子弹，收齐输入后推进一帧
// 坦克与子弹都按注册顺序处理，保证所有玩家得到同样的结果
type Game struct {
	frame   int
	gameMap *GridMap

	tanks       map[string]*Tank
	tankOrder   []string
	bullets     map[string]*Bullet
	bulletOrder []string

	pending map[string]Action

	newBulletID func() string
}

func New() *Game {
	return &Game{
		tanks:   make(map[string]*Tank),
		bullets: make(map[string]*Bullet),
		pending: make(map[string]Action),
		newBulletID: func() string {
			return uuid.New().String()[:8]
		},
	}
}

func (g *Game) SetMap(m *GridMap) { g.gameMap = m }
func (g *Game) Map() *GridMap     { return g.gameMap }
func (g *Game) Frame() int        { return g.frame }

// AddTank 注册坦克；重复 id 会替换实体但保留原有顺序
func (g *Game) AddTank(t *Tank) {
	if _, ok := g.tanks[t.ID]; !ok {
		g.tankOrder = append(g.tankOrder, t.ID)
	}
	g.tanks[t.ID] = t
}

func (g *Game) Tank(id string) (*Tank, bool) {
	t, ok := g.tanks[id]
	return t, ok
}

// TankIDs 按注册顺序返回坦克 id
func (g *Game) TankIDs() []string {
	return append([]string(nil), g.tankOrder...)
}

func (g *Game) Bullet(id string) (*Bullet, bool) {
	b, ok := g.bullets[id]
	return b, ok
}

// Bullets 按注册顺序返回存活子弹
func (g *Game) Bullets() []*Bullet {
	out := make([]*Bullet, 0, len(g.bulletOrder))
	for _, id := range g.bulletOrder {
		out = append(out, g.bullets[id])
	}
	return out
}

// AddTankAction 记录本帧动作，同一帧内后到的覆盖先到的；未知坦克返回 false
func (g *Game) AddTankAction(id string, a Action) bool {
	if _, ok := g.tanks[id]; !ok {
		return false
	}
	a.ID = id
	g.pending[id] = a
	return true
}

// IsFrameReady 所有坦克的动作都已到齐
func (g *Game) IsFrameReady() bool {
	return len(g.tanks) > 0 && len(g.pending) == len(g.tanks)
}

// PlaceTanks 按注册顺序把坦克放到地图出生点
func (g *Game) PlaceTanks() error {
	if g.gameMap == nil {
		return fmt.Errorf("place tanks: %w", ErrInvalidMap)
	}
	if g.gameMap.SpawnCount() < len(g.tankOrder) {
		return fmt.Errorf("place %d tanks on %d spawns: %w", len(g.tankOrder), g.gameMap.SpawnCount(), ErrNotEnoughSpawns)
	}
	for i, id := range g.tankOrder {
		s, _ := g.gameMap.SpawnAt(i)
		g.tanks[id].Setup(s)
	}
	return nil
}

// PrepareGame 为指定玩家构造 start 包
func (g *Game) PrepareGame(tankID string) StartPacket {
	p := StartPacket{Enemies: []TankInit{}}
	for _, id := range g.tankOrder {
		t := g.tanks[id]
		init := TankInit{
			ID:          id,
			Orientation: t.Orientation,
			Enemy:       id != tankID,
			X:           t.X,
			Y:           t.Y,
			Stats:       t.Stats,
			Cooldowns:   t.DefaultCooldowns(),
		}
		if init.Enemy {
			p.Enemies = append(p.Enemies, init)
		} else {
			p.Player = init
		}
	}
	if g.gameMap != nil {
		p.Map = g.gameMap.Raw()
	}
	return p
}

// ProcessFrame 结算一帧并返回广播事件；输入未到齐时什么都不做
//
//  1. 冷却中的动作降级为 noop，shoot 分配子弹 id，炮口出界的射击作废
//  2. 对改变位姿的坦克先算出候选位姿，与地图和其他坦克比对，冲突则本帧动作作废
//  3. 提交动作，登记新子弹
//  4. 已有子弹前进 1 格
//  5. 子弹碰撞：命中坦克结算伤害，两颗子弹互相抵消，撞墙/出界销毁
func (g *Game) ProcessFrame() []Event {
	if !g.IsFrameReady() || g.gameMap == nil {
		return nil
	}

	actions := make(map[string]Action, len(g.tankOrder))
	keep := make(map[string]bool, len(g.tankOrder))
	proposed := make(map[string]Pose, len(g.tankOrder))

	for _, id := range g.tankOrder {
		t := g.tanks[id]
		a := g.pending[id]
		if t.HasCooldown(a.Type) {
			a = Noop(id)
		}
		keep[id] = true
		if a.Type == ActionShoot {
			a.BulletID = g.newBulletID()
			if muzzle, _ := t.Muzzle(); !g.gameMap.InBounds(muzzle.X, muzzle.Y) {
				a = Noop(id)
				keep[id] = false
			}
		}
		actions[id] = a
		proposed[id] = t.ProposeAction(a)
	}

	// 被拒绝的坦克退回原位后可能挡住之前已通过的坦克，反复检查直到没有新的拒绝
	for changed := true; changed; {
		changed = false
		for _, id := range g.tankOrder {
			t := g.tanks[id]
			if proposed[id] == t.Pose() {
				continue
			}
			grid := g.collisionGrid(id, proposed, false)
			if _, hit := grid.firstHit(FootprintAt(proposed[id])); hit {
				proposed[id] = t.Pose()
				actions[id] = Noop(id)
				keep[id] = false
				changed = true
			}
		}
	}

	existing := len(g.bulletOrder)
	unitEvents := make(map[string]*Event, len(g.tankOrder))
	for _, id := range g.tankOrder {
		b, err := g.tanks[id].ApplyAction(actions[id])
		if err != nil {
			// 输入已在会话层校验过，这里只会是协议之外的数据
			continue
		}
		if b != nil {
			g.bullets[b.ID] = b
			g.bulletOrder = append(g.bulletOrder, b.ID)
		}
		if keep[id] {
			ev := actionEvent(actions[id])
			unitEvents[id] = &ev
		}
	}

	bulletEvents := make(map[string]Event, len(g.bulletOrder))
	for _, id := range g.bulletOrder[:existing] {
		g.bullets[id].Move(1)
		bulletEvents[id] = Event{Type: EventBulletMove, ID: id, Speed: 1}
	}
	eventOrder := append([]string(nil), g.bulletOrder...)

	for _, id := range eventOrder {
		b, ok := g.bullets[id]
		if !ok {
			// 已被其他子弹抵消
			continue
		}
		grid := g.collisionGrid(id, nil, true)
		occ := grid.at(b.X, b.Y)
		if occ.kind == occNone {
			continue
		}
		switch occ.kind {
		case occTank:
			target := g.tanks[occ.id]
			damage := 0
			if shooter, ok := g.tanks[b.TankID]; ok {
				damage = shooter.Stats.Damage
			}
			target.TakeDamage(damage)
			health := target.Health()
			ev, ok := unitEvents[occ.id]
			if !ok {
				noop := actionEvent(Noop(occ.id))
				ev = &noop
				unitEvents[occ.id] = ev
			}
			ev.Health = &health
		case occBullet:
			bulletEvents[occ.id] = Event{Type: EventDestroy, ID: occ.id}
			g.removeBullet(occ.id)
		}
		bulletEvents[id] = Event{Type: EventDestroy, ID: id}
		g.removeBullet(id)
	}

	events := make([]Event, 0, len(unitEvents)+len(bulletEvents))
	for _, id := range g.tankOrder {
		if ev, ok := unitEvents[id]; ok {
			events = append(events, *ev)
		}
	}
	for _, id := range eventOrder {
		if ev, ok := bulletEvents[id]; ok {
			events = append(events, ev)
		}
	}

	g.pending = make(map[string]Action, len(g.tanks))
	g.frame++
	return events
}

// Finished 任一坦克血量 <=0 即结束
func (g *Game) Finished() bool {
	for _, id := range g.tankOrder {
		if g.tanks[id].Dead() {
			return true
		}
	}
	return false
}

// Winners 存活坦克 id（按注册顺序）
func (g *Game) Winners() []string {
	var out []string
	for _, id := range g.tankOrder {
		if !g.tanks[id].Dead() {
			out = append(out, id)
		}
	}
	return out
}

// collisionGrid 以地图为模板，叠加除 ignoreID 外所有坦克（poses 中有候选位姿则用候选位姿）；
// withBullets 时再叠加其他子弹的当前格与上一格
func (g *Game) collisionGrid(ignoreID string, poses map[string]Pose, withBullets bool) *collisionGrid {
	grid := newCollisionGrid(g.gameMap)
	for _, id := range g.tankOrder {
		if id == ignoreID {
			continue
		}
		pose := g.tanks[id].Pose()
		if p, ok := poses[id]; ok {
			pose = p
		}
		for _, c := range FootprintAt(pose) {
			grid.mark(c, occupant{kind: occTank, id: id})
		}
	}
	if withBullets {
		for _, id := range g.bulletOrder {
			if id == ignoreID {
				continue
			}
			b := g.bullets[id]
			o := occupant{kind: occBullet, id: id}
			grid.mark(Point{X: b.X, Y: b.Y}, o)
			grid.mark(Point{X: b.PrevX, Y: b.PrevY}, o)
		}
	}
	return grid
}

func (g *Game) removeBullet(id string) {
	if _, ok := g.bullets[id]; !ok {
		return
	}
	delete(g.bullets, id)
	for i, bid := range g.bulletOrder {
		if bid == id {
			g.bulletOrder = append(g.bulletOrder[:i], g.bulletOrder[i+1:]...)
			break
		}
	}
}
