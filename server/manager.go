package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"tankarena/game"
	"tankarena/protocol"
	"tankarena/store"
)

// Store 服务端用到的全部持久化操作：房间部分 + 管理接口部分
type Store interface {
	SessionStore
	UpsertTankProperty(ctx context.Context, id string, typ game.PropertyCategory, value int) (string, error)
	UpsertMap(ctx context.Context, id string, cells [][]int, spawns []game.Spawn) (string, error)
	Score(ctx context.Context, playerID string) (store.Score, error)
}

// ManagerOptions 新房间使用的参数
type ManagerOptions struct {
	Capacity     int
	TickInterval time.Duration
	Codec        protocol.Codec
	Store        Store
}

// RoomManager 管理多个房间的生命周期：新连接进入最早未满的房间，没有就新建
type RoomManager struct {
	mu           sync.Mutex
	capacity     int
	tickInterval time.Duration
	codec        protocol.Codec
	store        Store

	rooms map[string]*Room
	free  []*Room        // 未满的房间，按创建顺序
	seats map[string]int // 已分配的座位数
}

func NewRoomManager(opts ManagerOptions) *RoomManager {
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
	return &RoomManager{
		capacity:     opts.Capacity,
		tickInterval: opts.TickInterval,
		codec:        opts.Codec,
		store:        opts.Store,
		rooms:        make(map[string]*Room),
		seats:        make(map[string]int),
	}
}

// Assign 把玩家放进最早未满的房间；房间满员后移出空闲列表
func (m *RoomManager) Assign(p *Player) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		var r *Room
		if len(m.free) > 0 {
			r = m.free[0]
		} else {
			r = m.newRoomLocked()
		}
		if !r.Join(p) {
			// 房间刚刚关闭，OnClosed 还在等锁
			m.removeFreeLocked(r)
			continue
		}
		m.seats[r.ID]++
		if m.seats[r.ID] >= r.Capacity() {
			m.removeFreeLocked(r)
		}
		return r
	}
}

func (m *RoomManager) newRoomLocked() *Room {
	r := NewRoom(RoomOptions{
		Capacity:     m.capacity,
		TickInterval: m.tickInterval,
		Codec:        m.codec,
		Store:        m.store,
	})
	r.OnClosed = m.onRoomClosed
	m.rooms[r.ID] = r
	m.free = append(m.free, r)
	go r.Run()
	return r
}

func (m *RoomManager) removeFreeLocked(r *Room) {
	for i, f := range m.free {
		if f == r {
			m.free = append(m.free[:i], m.free[i+1:]...)
			return
		}
	}
}

func (m *RoomManager) onRoomClosed(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, r.ID)
	delete(m.seats, r.ID)
	m.removeFreeLocked(r)
}

// Room 按 id 查找存活的房间
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms 存活房间列表（按 id 排序，便于输出稳定）
func (m *RoomManager) Rooms() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FreeRooms 未满房间数
func (m *RoomManager) FreeRooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.free)
}

func (m *RoomManager) TickInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickInterval
}

// SetTickInterval 只影响之后创建的房间
func (m *RoomManager) SetTickInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickInterval = d
}

func (m *RoomManager) Capacity() int { return m.capacity }

// Shutdown 关闭所有房间并等待它们写完持久化队列
func (m *RoomManager) Shutdown(ctx context.Context) error {
	rooms := m.Rooms()
	for _, r := range rooms {
		r.Shutdown()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
