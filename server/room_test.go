package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tankarena/game"
	"tankarena/protocol"
	"tankarena/store"
)

type fakeConn struct {
	sendCh chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{sendCh: make(chan []byte, 256), closed: make(chan struct{})}
}

func (f *fakeConn) Send(b []byte) error {
	select {
	case <-f.closed:
		return ErrConnClosed
	default:
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sendCh <- cp
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// next 丢弃其他类型，直到收到 typ 类型的报文
func next(t *testing.T, fc *fakeConn, typ string) envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b := <-fc.sendCh:
			var env envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

// quiet 在 d 内没有收到 typ 类型的报文
func quiet(t *testing.T, fc *fakeConn, typ string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case b := <-fc.sendCh:
			var env envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Type == typ {
				t.Fatalf("unexpected %s: %s", typ, env.Data)
			}
		case <-timeout:
			return
		}
	}
}

func waitDone(t *testing.T, r *Room) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room %s did not close", r.ID)
	}
}

// 两辆坦克在开阔地上面对面：A 炮口在 (6,2)，B 的车身从 x=7 开始
func duelMap(spawns ...game.Spawn) store.MapRecord {
	cells := make([][]int, 5)
	for y := range cells {
		cells[y] = make([]int, 14)
	}
	if len(spawns) == 0 {
		spawns = []game.Spawn{
			{X: 1, Y: 1, Orientation: game.Right},
			{X: 7, Y: 1, Orientation: game.Left},
		}
	}
	return store.MapRecord{ID: "duel", Cells: cells, Spawns: spawns}
}

var loadout = []string{"chassis-10", "armor-0", "weapon-10"}

func newTestStore(t *testing.T, m store.MapRecord) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	for _, p := range []game.Property{
		{ID: "chassis-10", Type: game.CategoryChassis, Value: 10},
		{ID: "chassis-20", Type: game.CategoryChassis, Value: 20},
		{ID: "armor-0", Type: game.CategoryArmor, Value: 0},
		{ID: "weapon-10", Type: game.CategoryWeapon, Value: 10},
	} {
		if _, err := mem.UpsertTankProperty(ctx, p.ID, p.Type, p.Value); err != nil {
			t.Fatalf("seed property: %v", err)
		}
	}
	mem.ReplaceMaps(m)
	return mem
}

func startRoom(t *testing.T, mem *store.Memory, tick time.Duration) *Room {
	t.Helper()
	r := NewRoom(RoomOptions{Capacity: 2, TickInterval: tick, Store: mem})
	go r.Run()
	t.Cleanup(func() {
		r.Shutdown()
		<-r.Done()
	})
	return r
}

func joinPair(t *testing.T, r *Room) (*Player, *fakeConn, *Player, *fakeConn) {
	t.Helper()
	a, b := newFakeConn(), newFakeConn()
	pa, pb := &Player{Conn: a}, &Player{Conn: b}
	if !r.Join(pa) || !r.Join(pb) {
		t.Fatalf("join rejected")
	}
	return pa, a, pb, b
}

// startMatch 双方就绪并消费掉 start 与首个帧请求
func startMatch(t *testing.T, r *Room) (*Player, *fakeConn, *Player, *fakeConn) {
	t.Helper()
	pa, a, pb, b := joinPair(t, r)
	r.Deliver(pa, protocol.Ready{ID: "A", Properties: loadout})
	r.Deliver(pb, protocol.Ready{ID: "B", Properties: loadout})
	for _, fc := range []*fakeConn{a, b} {
		next(t, fc, protocol.MsgStart)
		if env := next(t, fc, protocol.MsgGameAction); string(env.Data) != "false" {
			t.Fatalf("first game_action data = %s, want false", env.Data)
		}
	}
	return pa, a, pb, b
}

func decodeEvents(t *testing.T, env envelope) []game.Event {
	t.Helper()
	var events []game.Event
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("decode events %s: %v", env.Data, err)
	}
	return events
}

func TestRoomFullMatchRecordsOutcome(t *testing.T) {
	mem := newTestStore(t, duelMap())
	r := startRoom(t, mem, 5*time.Millisecond)
	pa, a, pb, b := joinPair(t, r)

	r.Deliver(pa, protocol.GetTankProperties{})
	var props []game.Property
	if err := json.Unmarshal(next(t, a, protocol.MsgAvailableTankProperties).Data, &props); err != nil {
		t.Fatalf("decode properties: %v", err)
	}
	if len(props) < len(loadout) {
		t.Fatalf("got %d properties, want at least %d", len(props), len(loadout))
	}

	r.Deliver(pa, protocol.Ready{ID: "A", Properties: loadout})
	r.Deliver(pb, protocol.Ready{ID: "B", Properties: loadout})

	var start game.StartPacket
	if err := json.Unmarshal(next(t, a, protocol.MsgStart).Data, &start); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if start.Player.ID != "A" || start.Player.X != 1 || start.Player.Orientation != game.Right {
		t.Fatalf("start player = %+v, want A at spawn 0", start.Player)
	}
	if len(start.Enemies) != 1 || start.Enemies[0].ID != "B" || !start.Enemies[0].Enemy {
		t.Fatalf("start enemies = %+v, want [B]", start.Enemies)
	}
	if len(start.Map) != 5 || len(start.Map[0]) != 14 {
		t.Fatalf("start map %dx%d, want 14x5", len(start.Map[0]), len(start.Map))
	}
	next(t, a, protocol.MsgGameAction)
	next(t, b, protocol.MsgStart)
	next(t, b, protocol.MsgGameAction)

	r.Deliver(pa, protocol.GameAction{Data: game.Action{Type: game.ActionShoot}})
	r.Deliver(pb, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	events := decodeEvents(t, next(t, a, protocol.MsgGameAction))
	if len(events) != 2 || events[0].Type != "shoot" || events[0].ID != "A" || events[0].BulletID == "" {
		t.Fatalf("frame 1 events = %+v", events)
	}
	bulletID := events[0].BulletID
	next(t, b, protocol.MsgGameAction)

	r.Deliver(pa, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	r.Deliver(pb, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	events = decodeEvents(t, next(t, b, protocol.MsgGameAction))
	if len(events) != 3 {
		t.Fatalf("frame 2 events = %+v", events)
	}
	if events[1].ID != "B" || events[1].Health == nil || *events[1].Health != 0 {
		t.Fatalf("B record = %+v, want health 0", events[1])
	}
	if events[2].Type != game.EventDestroy || events[2].ID != bulletID {
		t.Fatalf("bullet record = %+v, want destroy %s", events[2], bulletID)
	}

	next(t, a, protocol.MsgStop)
	next(t, b, protocol.MsgStop)
	waitDone(t, r)
	if !a.isClosed() || !b.isClosed() {
		t.Fatalf("connections should be closed after stop")
	}
	if r.Frame() != 2 {
		t.Fatalf("frame = %d, want 2", r.Frame())
	}

	ctx := context.Background()
	if sc, _ := mem.Score(ctx, "A"); sc.Wins != 1 || sc.Loses != 0 {
		t.Fatalf("A score = %+v, want 1 win", sc)
	}
	if sc, _ := mem.Score(ctx, "B"); sc.Wins != 0 || sc.Loses != 1 {
		t.Fatalf("B score = %+v, want 1 loss", sc)
	}
	sess, err := mem.Session(ctx, r.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.Status != store.SessionFinished || sess.Map != "duel" || len(sess.Players) != 2 {
		t.Fatalf("session = %+v", sess)
	}
}

func TestRoomDesyncOnBadReady(t *testing.T) {
	cases := []struct {
		name  string
		ready func(r *Room, pa, pb *Player)
	}{
		{"unknown property", func(r *Room, pa, _ *Player) {
			r.Deliver(pa, protocol.Ready{ID: "A", Properties: []string{"chassis-10", "laser"}})
		}},
		{"two properties of one category", func(r *Room, pa, _ *Player) {
			r.Deliver(pa, protocol.Ready{ID: "A", Properties: []string{"chassis-10", "chassis-20"}})
		}},
		{"missing id", func(r *Room, pa, _ *Player) {
			r.Deliver(pa, protocol.Ready{Properties: loadout})
		}},
		{"duplicate id", func(r *Room, pa, pb *Player) {
			r.Deliver(pa, protocol.Ready{ID: "A", Properties: loadout})
			r.Deliver(pb, protocol.Ready{ID: "A", Properties: loadout})
		}},
		{"second ready", func(r *Room, pa, _ *Player) {
			r.Deliver(pa, protocol.Ready{ID: "A", Properties: loadout})
			r.Deliver(pa, protocol.Ready{ID: "A2", Properties: loadout})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
			pa, a, pb, b := joinPair(t, r)
			tc.ready(r, pa, pb)
			next(t, a, protocol.MsgStop)
			next(t, b, protocol.MsgStop)
			waitDone(t, r)
			if got := r.Metrics().Snapshot()["desyncs"]; got != int64(1) {
				t.Fatalf("desyncs = %v, want 1", got)
			}
		})
	}
}

func TestRoomDesyncOnInvalidAction(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	pa, a, _, b := startMatch(t, r)
	r.Deliver(pa, protocol.GameAction{Data: game.Action{Type: game.ActionRotate, Rotation: 45}})
	next(t, a, protocol.MsgStop)
	next(t, b, protocol.MsgStop)
	waitDone(t, r)
}

func TestRoomDesyncOnMalformedPacket(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	pa, a, _, b := joinPair(t, r)
	r.ReportError(pa, errors.New("bad json"))
	next(t, a, protocol.MsgStop)
	next(t, b, protocol.MsgStop)
	waitDone(t, r)
}

func TestRoomIgnoresActionBeforeStart(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	pa, a, _, _ := joinPair(t, r)
	r.Deliver(pa, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	// 收件箱按顺序处理，收到目录说明前面的动作已处理完
	r.Deliver(pa, protocol.GetTankProperties{})
	next(t, a, protocol.MsgAvailableTankProperties)
	if r.State() == StateStopped {
		t.Fatalf("room stopped on early action")
	}
	if got := r.Metrics().Snapshot()["actions_ignored"]; got != int64(1) {
		t.Fatalf("actions_ignored = %v, want 1", got)
	}
}

func TestRoomWaitsForAllInputsThenStepsEagerly(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	pa, a, pb, _ := startMatch(t, r)

	r.Deliver(pa, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	quiet(t, a, protocol.MsgGameAction, 50*time.Millisecond)
	if r.Frame() != 0 {
		t.Fatalf("frame = %d before all inputs arrived", r.Frame())
	}
	snap := r.Metrics().Snapshot()
	if snap["missed_locksteps"].(int64) == 0 {
		t.Fatalf("expected missed locksteps, metrics %v", snap)
	}

	r.Deliver(pb, protocol.GameAction{Data: game.Action{Type: game.ActionNoop}})
	events := decodeEvents(t, next(t, a, protocol.MsgGameAction))
	if len(events) != 2 {
		t.Fatalf("events = %+v, want one record per tank", events)
	}
	if got := r.Metrics().Snapshot()["eager_steps"].(int64); got < 1 {
		t.Fatalf("eager_steps = %d, want >= 1", got)
	}
	if r.Frame() != 1 {
		t.Fatalf("frame = %d, want 1", r.Frame())
	}
}

func TestRoomDisconnectTearsDown(t *testing.T) {
	mem := newTestStore(t, duelMap())
	r := startRoom(t, mem, 5*time.Millisecond)
	_, a, pb, _ := startMatch(t, r)
	r.Leave(pb)
	next(t, a, protocol.MsgStop)
	waitDone(t, r)
	if r.Leave(pb) {
		t.Fatalf("leave after close should report a closed room")
	}
	sess, err := mem.Session(context.Background(), r.ID)
	if err != nil || sess.Status != store.SessionFinished {
		t.Fatalf("session = %+v, err %v", sess, err)
	}
	// 中途断线不计胜负
	if sc, _ := mem.Score(context.Background(), "A"); sc.Wins != 0 || sc.Loses != 0 {
		t.Fatalf("A score = %+v, want untouched", sc)
	}
}

func TestRoomDisconnectWhileFilling(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	a := newFakeConn()
	pa := &Player{Conn: a}
	r.Join(pa)
	r.Leave(pa)
	next(t, a, protocol.MsgStop)
	waitDone(t, r)
}

func TestRoomTooFewSpawnsTearsDown(t *testing.T) {
	m := duelMap(game.Spawn{X: 1, Y: 1, Orientation: game.Right})
	r := startRoom(t, newTestStore(t, m), 5*time.Millisecond)
	_, a, _, b := joinPair(t, r)
	next(t, a, protocol.MsgStop)
	next(t, b, protocol.MsgStop)
	waitDone(t, r)
}

func TestRoomRejectsJoinWhenFull(t *testing.T) {
	r := startRoom(t, newTestStore(t, duelMap()), 5*time.Millisecond)
	joinPair(t, r)
	c := newFakeConn()
	r.Join(&Player{Conn: c})
	next(t, c, protocol.MsgStop)
	select {
	case <-c.closed:
	case <-time.After(time.Second):
		t.Fatalf("rejected connection not closed")
	}
	if r.State() == StateStopped {
		t.Fatalf("room should survive a rejected join")
	}
}

func TestRoomShutdownDuringMatch(t *testing.T) {
	mem := newTestStore(t, duelMap())
	r := startRoom(t, mem, 5*time.Millisecond)
	_, a, _, b := startMatch(t, r)
	r.Shutdown()
	next(t, a, protocol.MsgStop)
	next(t, b, protocol.MsgStop)
	waitDone(t, r)
	if r.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", r.State())
	}
}

func TestRoomQueuedJoinIsStoppedOnShutdown(t *testing.T) {
	mem := newTestStore(t, duelMap())
	r := NewRoom(RoomOptions{Capacity: 2, TickInterval: 5 * time.Millisecond, Store: mem})
	c := newFakeConn()
	if !r.Join(&Player{Conn: c}) {
		t.Fatalf("join rejected before room started")
	}
	// 关闭信号与加入请求同时就绪，无论主循环先处理哪个，连接都必须收到 stop 并被关闭
	r.Shutdown()
	go r.Run()
	waitDone(t, r)
	next(t, c, protocol.MsgStop)
	if !c.isClosed() {
		t.Fatalf("queued player's connection left open")
	}
	if r.Join(&Player{Conn: newFakeConn()}) {
		t.Fatalf("join accepted after room stopped")
	}
}
