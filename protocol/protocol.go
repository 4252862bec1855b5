package protocol

import (
	"errors"
	"fmt"

	"tankarena/game"
)

// 报文类型
const (
	MsgGetAllTankProperties    = "get_all_tank_properties"
	MsgAvailableTankProperties = "available_tank_properties"
	MsgGameAction              = "game_action"
	MsgReady                   = "ready"
	MsgLog                     = "log"
	MsgStart                   = "start"
	MsgStop                    = "stop"
)

// ErrUnknownMessage 未知的报文类型（协议错误）
var ErrUnknownMessage = errors.New("unknown message type")

// Envelope 出站报文
type Envelope struct {
	Type string `json:"type" msgpack:"type"`
	Data any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

type head struct {
	Type string `json:"type" msgpack:"type"`
}

// GetTankProperties 请求配件目录
type GetTankProperties struct{}

// GameAction 玩家本帧动作
type GameAction struct {
	Data game.Action `json:"data" msgpack:"data"`
}

// Ready 玩家就绪：身份 + 所选配件 id
type Ready struct {
	ID         string   `json:"id" msgpack:"id"`
	Properties []string `json:"properties" msgpack:"properties"`
}

// Log 客户端调试日志
type Log struct {
	ID   string `json:"id" msgpack:"id"`
	Data any    `json:"data" msgpack:"data"`
}

// Decode 先解出 type，再按类型解出报文体；返回值为上面几种报文之一
func Decode(c Codec, b []byte) (any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("decode: empty packet")
	}
	var h head
	if err := c.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode head: %w", err)
	}
	switch h.Type {
	case MsgGetAllTankProperties:
		return GetTankProperties{}, nil
	case MsgGameAction:
		return decodeBody[GameAction](c, b, h.Type)
	case MsgReady:
		return decodeBody[Ready](c, b, h.Type)
	case MsgLog:
		return decodeBody[Log](c, b, h.Type)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, h.Type)
}

func decodeBody[T any](c Codec, b []byte, typ string) (T, error) {
	var out T
	if err := c.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", typ, err)
	}
	return out, nil
}

// Encode 编码出站报文
func Encode(c Codec, typ string, data any) ([]byte, error) {
	if typ == "" {
		return nil, fmt.Errorf("encode: empty envelope type")
	}
	return c.Marshal(Envelope{Type: typ, Data: data})
}
