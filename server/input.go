package server

import (
	"tankarena/game"
	"tankarena/store"
)

// 房间收件箱中的事件；所有事件都在房间协程中按到达顺序处理

// joinEvent 新连接加入
type joinEvent struct {
	player *Player
}

// leaveEvent 连接断开（读泵退出）
type leaveEvent struct {
	player *Player
}

// messageEvent 已解码的客户端报文，msg 为 protocol 包中的报文类型之一
type messageEvent struct {
	player *Player
	msg    any
}

// protocolErrorEvent 报文无法解码
type protocolErrorEvent struct {
	player *Player
	err    error
}

// catalogEvent 配件目录异步加载结果
type catalogEvent struct {
	props []game.Property
	err   error
}

// mapEvent 地图异步选取结果
type mapEvent struct {
	rec *store.MapRecord
	err error
}
