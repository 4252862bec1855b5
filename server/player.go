package server

import (
	"tankarena/game"
)

// Conn 房间向玩家发送数据所需的最小能力；ClientConn 与测试中的假连接都实现它
type Conn interface {
	Send(b []byte) error
	Close() error
}

// Player 一个 websocket 连接在房间中的身份；ready 之前 Tank 为 nil
type Player struct {
	Seq  int // 加入房间的顺序
	Conn Conn

	Tank       *game.Tank
	Properties []string
}

// ID ready 之后为坦克 id，之前为空
func (p *Player) ID() string {
	if p.Tank == nil {
		return ""
	}
	return p.Tank.ID
}

func (p *Player) Ready() bool { return p.Tank != nil }
