package game

// Bullet 子弹：占 1 格，朝向在创建后不变
// PrevX/PrevY 记录上一次移动前的位置，两颗子弹同帧交错时靠它判定相撞
type Bullet struct {
	ID          string
	TankID      string
	Orientation Orientation
	X, Y        int
	PrevX       int
	PrevY       int
}

// NewBullet 在 (x,y) 创建子弹，上一位置等于当前位置
func NewBullet(id, tankID string, o Orientation, x, y int) *Bullet {
	return &Bullet{ID: id, TankID: tankID, Orientation: o, X: x, Y: y, PrevX: x, PrevY: y}
}

// Move 沿朝向前进 speed 格；越界由调用方处理
func (b *Bullet) Move(speed int) {
	b.PrevX, b.PrevY = b.X, b.Y
	dx, dy := b.Orientation.delta()
	b.X += dx * speed
	b.Y += dy * speed
}
