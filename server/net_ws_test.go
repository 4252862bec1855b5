package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tankarena/game"
	"tankarena/protocol"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writePacket(t *testing.T, ws *websocket.Conn, c protocol.Codec, v any) {
	t.Helper()
	b, err := c.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(c.MessageType(), b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil 读到 typ 类型的报文为止，返回整个报文体
func readUntil(t *testing.T, ws *websocket.Conn, c protocol.Codec, typ string) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		mt, b, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if mt != c.MessageType() {
			t.Fatalf("frame type = %d, want %d", mt, c.MessageType())
		}
		var head struct {
			Type string `json:"type" msgpack:"type"`
		}
		if err := c.Unmarshal(b, &head); err != nil {
			t.Fatalf("decode head: %v", err)
		}
		if head.Type == typ {
			return b
		}
	}
}

func newWSServer(t *testing.T, codec protocol.Codec) *httptest.Server {
	t.Helper()
	m := NewRoomManager(ManagerOptions{
		Capacity:     2,
		TickInterval: 5 * time.Millisecond,
		Codec:        codec,
		Store:        newTestStore(t, duelMap()),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	srv := httptest.NewServer(http.HandlerFunc(m.HandleWS))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketMatchStartsAndStopsOnDisconnect(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSONCodec{}, protocol.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := newWSServer(t, codec)
			alice, bob := dial(t, srv), dial(t, srv)

			writePacket(t, alice, codec, map[string]any{"type": protocol.MsgGetAllTankProperties})
			var catalog struct {
				Data []game.Property `json:"data" msgpack:"data"`
			}
			if err := codec.Unmarshal(readUntil(t, alice, codec, protocol.MsgAvailableTankProperties), &catalog); err != nil {
				t.Fatalf("decode catalog: %v", err)
			}
			if len(catalog.Data) == 0 {
				t.Fatalf("empty catalog")
			}

			writePacket(t, alice, codec, map[string]any{"type": protocol.MsgReady, "id": "alice", "properties": loadout})
			writePacket(t, bob, codec, map[string]any{"type": protocol.MsgReady, "id": "bob", "properties": loadout})

			var start struct {
				Data game.StartPacket `json:"data" msgpack:"data"`
			}
			if err := codec.Unmarshal(readUntil(t, bob, codec, protocol.MsgStart), &start); err != nil {
				t.Fatalf("decode start: %v", err)
			}
			if start.Data.Player.ID != "bob" || len(start.Data.Enemies) != 1 || start.Data.Enemies[0].ID != "alice" {
				t.Fatalf("start = %+v", start.Data)
			}
			readUntil(t, bob, codec, protocol.MsgGameAction)

			_ = alice.Close()
			readUntil(t, bob, codec, protocol.MsgStop)
		})
	}
}

func TestWebsocketMalformedPacketStopsRoom(t *testing.T) {
	codec := protocol.JSONCodec{}
	srv := newWSServer(t, codec)
	alice, bob := dial(t, srv), dial(t, srv)
	// 确认 bob 已进入房间
	writePacket(t, bob, codec, map[string]any{"type": protocol.MsgGetAllTankProperties})
	readUntil(t, bob, codec, protocol.MsgAvailableTankProperties)

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, bob, codec, protocol.MsgStop)
	readUntil(t, alice, codec, protocol.MsgStop)
}
