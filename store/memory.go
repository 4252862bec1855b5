package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tankarena/game"
)

// Memory 进程内实现，和 SQLite 行为一致；用于测试以及不落盘的试跑（-db mem）
type Memory struct {
	mu         sync.Mutex
	properties map[string]game.Property
	maps       map[string]MapRecord
	sessions   map[string]*Session
	scores     map[string]*Score
}

// NewMemory 创建并写入默认配件与地图
func NewMemory() *Memory {
	m := &Memory{
		properties: make(map[string]game.Property),
		maps:       make(map[string]MapRecord),
		sessions:   make(map[string]*Session),
		scores:     make(map[string]*Score),
	}
	ctx := context.Background()
	for _, p := range defaultProperties() {
		_, _ = m.UpsertTankProperty(ctx, "", p.Type, p.Value)
	}
	d := DefaultMap()
	_, _ = m.UpsertMap(ctx, "", d.Cells, d.Spawns)
	return m
}

func (m *Memory) Close() error { return nil }

func (m *Memory) TankProperties(_ context.Context) ([]game.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]game.Property, 0, len(m.properties))
	for _, p := range m.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpsertTankProperty(_ context.Context, id string, typ game.PropertyCategory, value int) (string, error) {
	if err := validateProperty(typ, value); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	m.properties[id] = game.Property{ID: id, Type: typ, Value: value}
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) UpsertMap(_ context.Context, id string, cells [][]int, spawns []game.Spawn) (string, error) {
	if err := validateMap(cells, spawns); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	gm, _ := game.NewGridMap(cells, spawns)
	m.mu.Lock()
	m.maps[id] = MapRecord{ID: id, Cells: gm.Raw(), Spawns: append([]game.Spawn(nil), spawns...)}
	m.mu.Unlock()
	return id, nil
}

// ReplaceMaps 清空地图后只保留给定的一张（测试用）
func (m *Memory) ReplaceMaps(rec MapRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maps = map[string]MapRecord{rec.ID: rec}
}

func (m *Memory) RandomMap(_ context.Context) (*MapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.maps) == 0 {
		return nil, fmt.Errorf("random map: %w", ErrNotFound)
	}
	ids := make([]string, 0, len(m.maps))
	for id := range m.maps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rec := m.maps[ids[rand.Intn(len(ids))]]
	return &rec, nil
}

func (m *Memory) CreateSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		m.sessions[id] = &Session{ID: id}
	}
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, u SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("update session %s: %w", id, ErrNotFound)
	}
	if u.Map != nil {
		s.Map = *u.Map
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	return nil
}

func (m *Memory) AddPlayer(_ context.Context, sessionID, playerID string, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Players = append(s.Players, playerID)
	}
	if _, ok := m.scores[playerID]; !ok {
		m.scores[playerID] = &Score{PlayerID: playerID}
	}
	return nil
}

func (m *Memory) Session(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *s
	cp.Players = append([]string(nil), s.Players...)
	return &cp, nil
}

func (m *Memory) AddScore(_ context.Context, playerID string, score int) error {
	wins, loses := scoreDelta(score)
	if wins == 0 && loses == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scores[playerID]
	if !ok {
		sc = &Score{PlayerID: playerID}
		m.scores[playerID] = sc
	}
	sc.Wins += wins
	sc.Loses += loses
	return nil
}

func (m *Memory) Score(_ context.Context, playerID string) (Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scores[playerID]
	if !ok {
		return Score{PlayerID: playerID}, fmt.Errorf("score %s: %w", playerID, ErrNotFound)
	}
	return *sc, nil
}
