package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tankarena/game"
	"tankarena/protocol"
	"tankarena/store"
)

// RoomState 房间生命周期：凑人 → 等待就绪 → 对局中 → 已关闭
type RoomState int32

const (
	StateFilling RoomState = iota
	StateReadyWait
	StateRunning
	StateStopped
)

func (s RoomState) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateReadyWait:
		return "ready_wait"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SessionStore 房间用到的持久化操作
type SessionStore interface {
	TankProperties(ctx context.Context) ([]game.Property, error)
	RandomMap(ctx context.Context) (*store.MapRecord, error)
	CreateSession(ctx context.Context, id string) error
	UpdateSession(ctx context.Context, id string, u store.SessionUpdate) error
	AddPlayer(ctx context.Context, sessionID, playerID string, properties []string) error
	AddScore(ctx context.Context, playerID string, score int) error
}

const storeTimeout = 5 * time.Second

// RoomOptions 创建房间的参数，零值字段取默认
type RoomOptions struct {
	Capacity     int
	TickInterval time.Duration
	Codec        protocol.Codec
	Store        SessionStore
}

type persistJob struct {
	op string
	fn func(ctx context.Context) error
}

// Room 一局对战：收件箱 + 单协程推进，所有状态只在 Run 协程中读写
// 网络读协程、存储回调都只往 inbox 投递事件
type Room struct {
	ID string

	capacity     int
	tickInterval time.Duration
	codec        protocol.Codec
	store        SessionStore
	log          *zap.SugaredLogger

	players        []*Player
	game           *game.Game
	catalog        map[string]game.Property
	catalogList    []game.Property
	deferred       []messageEvent // 目录加载前收到的 ready / get_all_tank_properties
	mapSelected    bool
	missedLockstep bool
	sendFailed     *Player
	ticker         *time.Ticker

	state       atomic.Int32
	frame       atomic.Int64
	playerCount atomic.Int32

	inbox    chan any
	persistQ chan persistJob
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{} // Run 主循环退出
	postMu   sync.RWMutex
	closing  bool // 主循环已退出，post 一律拒绝
	done     chan struct{} // 持久化队列也已写完

	metrics *RoomMetrics

	// OnClosed 房间彻底结束后在 Run 协程中回调（RoomManager 用来摘除房间）
	OnClosed func(*Room)
}

// NewRoom 创建房间，调用方负责 go room.Run()
func NewRoom(opts RoomOptions) *Room {
	if opts.Capacity < 2 {
		opts.Capacity = 2
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Codec == nil {
		opts.Codec = protocol.JSONCodec{}
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	id := uuid.NewString()
	return &Room{
		ID:           id,
		capacity:     opts.Capacity,
		tickInterval: opts.TickInterval,
		codec:        opts.Codec,
		store:        opts.Store,
		log:          Log.With("room", id),
		game:         game.New(),
		inbox:        make(chan any, 256), // 足够缓冲，避免网络读阻塞
		persistQ:     make(chan persistJob, 64),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
		metrics:      &RoomMetrics{},
	}
}

func (r *Room) State() RoomState     { return RoomState(r.state.Load()) }
func (r *Room) setState(s RoomState) { r.state.Store(int32(s)) }

// Frame 已结算的帧数
func (r *Room) Frame() int { return int(r.frame.Load()) }

func (r *Room) Capacity() int               { return r.capacity }
func (r *Room) Metrics() *RoomMetrics       { return r.metrics }
func (r *Room) Done() <-chan struct{}       { return r.done }
func (r *Room) TickInterval() time.Duration { return r.tickInterval }

// RoomInfo /metrics 输出的房间概况
type RoomInfo struct {
	ID           string         `json:"id"`
	State        string         `json:"state"`
	Players      int            `json:"players"`
	Capacity     int            `json:"capacity"`
	Frame        int            `json:"frame"`
	TickInterval int64          `json:"tickIntervalMs"`
	Metrics      map[string]any `json:"metrics"`
}

func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:           r.ID,
		State:        r.State().String(),
		Players:      int(r.playerCount.Load()),
		Capacity:     r.capacity,
		Frame:        r.Frame(),
		TickInterval: r.tickInterval.Milliseconds(),
		Metrics:      r.metrics.Snapshot(),
	}
}

// Join 投递加入事件；房间已关闭返回 false
func (r *Room) Join(p *Player) bool { return r.post(joinEvent{player: p}) }

// Leave 连接断开
func (r *Room) Leave(p *Player) bool { return r.post(leaveEvent{player: p}) }

// Deliver 投递一条已解码的客户端报文
func (r *Room) Deliver(p *Player, msg any) bool { return r.post(messageEvent{player: p, msg: msg}) }

// ReportError 报文解码失败，房间会按协议错误解散
func (r *Room) ReportError(p *Player, err error) bool {
	return r.post(protocolErrorEvent{player: p, err: err})
}

// Shutdown 请求关闭房间（服务退出时使用），可重复调用
func (r *Room) Shutdown() {
	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *Room) post(ev any) bool {
	r.postMu.RLock()
	defer r.postMu.RUnlock()
	if r.closing {
		return false
	}
	select {
	case <-r.stopped:
		return false
	default:
	}
	select {
	case r.inbox <- ev:
		return true
	case <-r.stopped:
		return false
	}
}

// Run 房间主循环：处理收件箱事件与 Tick，直到房间关闭
func (r *Room) Run() {
	persisted := make(chan struct{})
	go r.persistLoop(persisted)
	r.persist("create session", func(ctx context.Context) error {
		return r.store.CreateSession(ctx, r.ID)
	})
	go r.loadCatalog()
	r.log.Infow("room created", "capacity", r.capacity, "tick", r.tickInterval)

	for r.State() != StateStopped {
		select {
		case ev := <-r.inbox:
			r.handle(ev)
		case <-r.tickC():
			r.tick()
		case <-r.quit:
			r.stop("server shutdown")
		}
		if r.sendFailed != nil && r.State() != StateStopped {
			r.log.Warnw("send to player failed", "player", r.sendFailed.ID(), "seq", r.sendFailed.Seq)
			r.stop("player connection lost")
		}
	}

	close(r.stopped)
	r.drainInbox()
	close(r.persistQ)
	<-persisted
	if r.OnClosed != nil {
		r.OnClosed(r)
	}
	close(r.done)
}

// drainInbox 主循环退出时仍在排队的事件不会再被处理，排队中的加入请求直接收到 stop 并断开
func (r *Room) drainInbox() {
	r.postMu.Lock()
	r.closing = true
	r.postMu.Unlock()
	for {
		select {
		case ev := <-r.inbox:
			if e, ok := ev.(joinEvent); ok {
				r.log.Debug("join arrived after room stopped")
				r.sendTo(e.player, protocol.MsgStop, nil)
				_ = e.player.Conn.Close()
			}
		default:
			return
		}
	}
}

func (r *Room) handle(ev any) {
	switch e := ev.(type) {
	case joinEvent:
		r.onJoin(e.player)
	case leaveEvent:
		r.onLeave(e.player)
	case messageEvent:
		r.onMessage(e.player, e.msg)
	case protocolErrorEvent:
		if r.hasPlayer(e.player) {
			r.desync(fmt.Sprintf("malformed packet from player %d: %v", e.player.Seq, e.err))
		}
	case catalogEvent:
		r.onCatalog(e)
	case mapEvent:
		r.onMap(e)
	default:
		r.log.Warnw("unknown room event", "event", fmt.Sprintf("%T", ev))
	}
}

func (r *Room) hasPlayer(p *Player) bool {
	for _, o := range r.players {
		if o == p {
			return true
		}
	}
	return false
}

func (r *Room) onJoin(p *Player) {
	if r.State() != StateFilling || len(r.players) >= r.capacity {
		r.log.Warnw("join rejected", "state", r.State(), "players", len(r.players))
		r.sendTo(p, protocol.MsgStop, nil)
		_ = p.Conn.Close()
		return
	}
	p.Seq = len(r.players)
	r.players = append(r.players, p)
	r.playerCount.Store(int32(len(r.players)))
	r.log.Infow("player joined", "seq", p.Seq, "players", len(r.players))
	if len(r.players) == r.capacity {
		r.setState(StateReadyWait)
		go r.selectMap()
	}
}

func (r *Room) onLeave(p *Player) {
	if !r.hasPlayer(p) {
		return
	}
	r.log.Infow("player disconnected", "seq", p.Seq, "player", p.ID())
	r.stop("player disconnected")
}

func (r *Room) onMessage(p *Player, msg any) {
	if !r.hasPlayer(p) || r.State() == StateStopped {
		return
	}
	switch m := msg.(type) {
	case protocol.GetTankProperties:
		if r.catalog == nil {
			r.deferred = append(r.deferred, messageEvent{player: p, msg: msg})
			return
		}
		r.sendTo(p, protocol.MsgAvailableTankProperties, r.catalogList)
	case protocol.Ready:
		if r.catalog == nil {
			r.deferred = append(r.deferred, messageEvent{player: p, msg: msg})
			return
		}
		r.onReady(p, m)
	case protocol.GameAction:
		r.onAction(p, m.Data)
	case protocol.Log:
		r.log.Debugw("client log", "player", m.ID, "data", m.Data)
	default:
		r.desync(fmt.Sprintf("unexpected message %T", msg))
		return
	}
	r.maybeEagerStep()
}

func (r *Room) onReady(p *Player, m protocol.Ready) {
	if p.Ready() {
		r.desync(fmt.Sprintf("player %s sent ready twice", p.ID()))
		return
	}
	if m.ID == "" {
		r.desync("ready without player id")
		return
	}
	for _, o := range r.players {
		if o.ID() == m.ID {
			r.desync(fmt.Sprintf("duplicate player id %q", m.ID))
			return
		}
	}
	props := make([]game.Property, 0, len(m.Properties))
	seen := make(map[game.PropertyCategory]bool)
	for _, id := range m.Properties {
		prop, ok := r.catalog[id]
		if !ok {
			r.desync(fmt.Sprintf("player %s: unknown tank property %q", m.ID, id))
			return
		}
		if seen[prop.Type] {
			r.desync(fmt.Sprintf("player %s: more than one %s property", m.ID, prop.Type))
			return
		}
		seen[prop.Type] = true
		props = append(props, prop)
	}

	tank := game.NewTank(m.ID)
	tank.ApplyProperties(props)
	p.Tank = tank
	p.Properties = append([]string(nil), m.Properties...)
	r.game.AddTank(tank)

	playerID, chosen := m.ID, p.Properties
	r.persist("add player", func(ctx context.Context) error {
		return r.store.AddPlayer(ctx, r.ID, playerID, chosen)
	})
	r.log.Infow("player ready", "player", m.ID, "properties", m.Properties)
	r.tryStart()
}

func (r *Room) onAction(p *Player, a game.Action) {
	if r.State() != StateRunning || !p.Ready() {
		r.metrics.IncIgnored()
		r.log.Debugw("action outside running match ignored", "seq", p.Seq, "state", r.State())
		return
	}
	if err := a.Validate(); err != nil {
		r.desync(fmt.Sprintf("player %s: %v", p.ID(), err))
		return
	}
	r.game.AddTankAction(p.ID(), a)
	r.metrics.IncAccepted()
}

func (r *Room) loadCatalog() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	props, err := r.store.TankProperties(ctx)
	r.post(catalogEvent{props: props, err: err})
}

func (r *Room) onCatalog(e catalogEvent) {
	if e.err != nil {
		r.log.Errorw("load tank properties failed", "err", e.err)
		r.stop("tank properties unavailable")
		return
	}
	r.catalog = make(map[string]game.Property, len(e.props))
	r.catalogList = append([]game.Property{}, e.props...)
	for _, p := range e.props {
		r.catalog[p.ID] = p
	}
	pending := r.deferred
	r.deferred = nil
	for _, ev := range pending {
		if r.State() == StateStopped {
			return
		}
		r.onMessage(ev.player, ev.msg)
	}
}

func (r *Room) selectMap() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	rec, err := r.store.RandomMap(ctx)
	r.post(mapEvent{rec: rec, err: err})
}

func (r *Room) onMap(e mapEvent) {
	if r.State() == StateStopped {
		return
	}
	if e.err != nil || e.rec == nil {
		r.log.Errorw("map selection failed", "err", e.err)
		r.stop("map selection failed")
		return
	}
	gm, err := game.NewGridMap(e.rec.Cells, e.rec.Spawns)
	if err != nil {
		r.log.Errorw("selected map is invalid", "map", e.rec.ID, "err", err)
		r.stop("invalid map")
		return
	}
	if gm.SpawnCount() < r.capacity {
		r.log.Errorw("selected map has too few spawns", "map", e.rec.ID, "spawns", gm.SpawnCount(), "capacity", r.capacity)
		r.stop("not enough spawns")
		return
	}
	r.game.SetMap(gm)
	r.mapSelected = true
	mapID := e.rec.ID
	r.persist("update session map", func(ctx context.Context) error {
		return r.store.UpdateSession(ctx, r.ID, store.SessionUpdate{Map: &mapID})
	})
	r.log.Infow("map selected", "map", mapID, "width", gm.Width(), "height", gm.Height())
	r.tryStart()
}

// tryStart 满员、全部就绪且地图已选定时开局
func (r *Room) tryStart() {
	if r.State() != StateReadyWait || !r.mapSelected || len(r.players) < r.capacity {
		return
	}
	for _, p := range r.players {
		if !p.Ready() {
			return
		}
	}
	if err := r.game.PlaceTanks(); err != nil {
		r.log.Errorw("place tanks failed", "err", err)
		r.stop("tank placement failed")
		return
	}
	r.setState(StateRunning)
	for _, p := range r.players {
		r.sendTo(p, protocol.MsgStart, r.game.PrepareGame(p.ID()))
		// 请求第一帧输入
		r.sendTo(p, protocol.MsgGameAction, false)
	}
	r.startTicker()
	r.log.Infow("match started", "tanks", r.game.TankIDs())
}

// recordOutcome 存活 +1，阵亡 -1；全部阵亡为平局，不记分
func (r *Room) recordOutcome() {
	winners := r.game.Winners()
	if len(winners) == 0 {
		r.log.Infow("match ended in a draw", "frame", r.game.Frame())
		return
	}
	alive := make(map[string]bool, len(winners))
	for _, id := range winners {
		alive[id] = true
	}
	for _, id := range r.game.TankIDs() {
		playerID, score := id, -1
		if alive[id] {
			score = 1
		}
		r.persist("add score", func(ctx context.Context) error {
			return r.store.AddScore(ctx, playerID, score)
		})
	}
	r.log.Infow("match finished", "winners", winners, "frame", r.game.Frame())
}

func (r *Room) desync(reason string) {
	r.metrics.IncDesync()
	r.log.Errorw("desync", "reason", reason, "state", r.State())
	r.stop(reason)
}

// stop 关闭房间：记录对局结束、通知并断开所有玩家；只执行一次
func (r *Room) stop(reason string) {
	if r.State() == StateStopped {
		return
	}
	r.setState(StateStopped)
	r.stopTicker()
	status := store.SessionFinished
	r.persist("finish session", func(ctx context.Context) error {
		return r.store.UpdateSession(ctx, r.ID, store.SessionUpdate{Status: &status})
	})
	r.broadcast(protocol.MsgStop, nil)
	for _, p := range r.players {
		_ = p.Conn.Close()
	}
	r.deferred = nil
	r.log.Infow("room closed", "reason", reason, "frame", r.game.Frame())
}

func (r *Room) sendTo(p *Player, typ string, data any) {
	b, err := protocol.Encode(r.codec, typ, data)
	if err != nil {
		r.log.Errorw("encode failed", "type", typ, "err", err)
		return
	}
	r.write(p, b)
}

// broadcast 只编码一次，发给所有玩家
func (r *Room) broadcast(typ string, data any) {
	b, err := protocol.Encode(r.codec, typ, data)
	if err != nil {
		r.log.Errorw("encode failed", "type", typ, "err", err)
		return
	}
	for _, p := range r.players {
		r.write(p, b)
	}
}

func (r *Room) write(p *Player, b []byte) {
	if err := p.Conn.Send(b); err != nil {
		r.log.Debugw("send failed", "seq", p.Seq, "err", err)
		if r.sendFailed == nil && r.hasPlayer(p) {
			r.sendFailed = p
		}
	}
}

// persist 按提交顺序异步写库，失败只记日志，不影响对局
func (r *Room) persist(op string, fn func(ctx context.Context) error) {
	r.persistQ <- persistJob{op: op, fn: fn}
}

func (r *Room) persistLoop(done chan<- struct{}) {
	defer close(done)
	for job := range r.persistQ {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := job.fn(ctx); err != nil {
			r.log.Warnw("persist failed", "op", job.op, "err", err)
		}
		cancel()
	}
}
