package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tankarena/protocol"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20 // 1MB
	sendQueueSize  = 64
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// ClientConn 一个 websocket 连接：读协程解码后投递给房间，写协程串行写出发送队列
type ClientConn struct {
	ws    *websocket.Conn
	codec protocol.Codec

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewClientConn(ws *websocket.Conn, codec protocol.Codec) *ClientConn {
	return &ClientConn{
		ws:     ws,
		codec:  codec,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// Send 压入发送队列，不阻塞房间协程；队列满说明客户端跟不上帧同步，返回错误由房间处理
func (c *ClientConn) Send(b []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 通知写协程发完队列中剩余的报文后关闭连接，可重复调用
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *ClientConn) write(messageType int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, payload)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定时发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(c.codec.MessageType(), msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			c.flush()
			return
		}
	}
}

// flush 关闭前写出队列里剩余的报文（通常是 stop）
func (c *ClientConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(c.codec.MessageType(), msg); err != nil {
				return
			}
		default:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump 读取客户端报文，解码后投递给房间；退出时通知房间该玩家断开
func (c *ClientConn) readPump(room *Room, p *Player) {
	defer room.Leave(p)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("websocket read failed", "room", room.ID, "remote", c.ws.RemoteAddr().String(), "err", err)
			}
			return
		}
		msg, err := protocol.Decode(c.codec, payload)
		if err != nil {
			room.ReportError(p, err)
			return
		}
		if !room.Deliver(p, msg) {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：连接按到达顺序分配到最早未满的房间
func (m *RoomManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := NewClientConn(ws, m.codec)
	p := &Player{Conn: client}
	room := m.Assign(p)
	Log.Infow("websocket connected", "remote", r.RemoteAddr, "room", room.ID)

	go client.writePump()
	go client.readPump(room, p)
}
