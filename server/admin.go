package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tankarena/game"
	"tankarena/store"
)

// HandleAdminConfig 读取与更新新房间的 Tick 间隔（已开局的房间不受影响）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段，如 {"tickIntervalMs":100}
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		TickIntervalMs *int64 `json:"tickIntervalMs,omitempty"`
		RoomCapacity   *int   `json:"roomCapacity,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		ms := m.TickInterval().Milliseconds()
		capacity := m.Capacity()
		writeJSON(w, http.StatusOK, cfg{TickIntervalMs: &ms, RoomCapacity: &capacity})
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.RoomCapacity != nil {
			http.Error(w, "roomCapacity is read-only", http.StatusBadRequest)
			return
		}
		if body.TickIntervalMs != nil {
			if *body.TickIntervalMs <= 0 {
				http.Error(w, "tickIntervalMs must be positive", http.StatusBadRequest)
				return
			}
			m.SetTickInterval(time.Duration(*body.TickIntervalMs) * time.Millisecond)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infof("config updated: tickInterval=%s", m.TickInterval())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出房间运行指标
// GET /metrics           所有存活房间
// GET /metrics?room=<id> 指定房间
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("room"); id != "" {
		room, ok := m.Room(id)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, room.Info())
		return
	}
	rooms := m.Rooms()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":     infos,
		"freeRooms": m.FreeRooms(),
	})
}

// apiResponse 管理接口统一返回 {"err": <string|false>, "result": <value|false>}
type apiResponse struct {
	Err    any `json:"err"`
	Result any `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, apiResponse{Err: false, Result: result})
}

func writeError(w http.ResponseWriter, status int, err error) {
	Log.Warnw("api request failed", "status", status, "err", err)
	writeJSON(w, status, apiResponse{Err: err.Error(), Result: false})
}

// storeStatus 校验类错误是调用方的问题，其余按服务端错误处理
func storeStatus(err error) int {
	if errors.Is(err, store.ErrInvalidProperty) || errors.Is(err, store.ErrInvalidMap) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// HandleAPI 配件目录、地图与积分的管理接口
func (m *RoomManager) HandleAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	switch r.URL.Path {
	case "/api/tank_properties/get":
		props, err := m.store.TankProperties(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeResult(w, props)

	case "/api/tank_properties/update":
		value, err := strconv.Atoi(q.Get("value"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("value must be an integer"))
			return
		}
		id, err := m.store.UpsertTankProperty(ctx, q.Get("id"), game.PropertyCategory(q.Get("type")), value)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		writeResult(w, id)

	case "/api/map/update":
		var cells [][]int
		if err := json.Unmarshal([]byte(q.Get("map")), &cells); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("map must be a JSON array of rows"))
			return
		}
		var spawns []game.Spawn
		if raw := q.Get("spawns"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &spawns); err != nil {
				writeError(w, http.StatusBadRequest, errors.New("spawns must be a JSON array"))
				return
			}
		}
		id, err := m.store.UpsertMap(ctx, q.Get("id"), cells, spawns)
		if err != nil {
			writeError(w, storeStatus(err), err)
			return
		}
		writeResult(w, id)

	case "/api/score":
		playerID := q.Get("id")
		if playerID == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing player id"))
			return
		}
		score, err := strconv.Atoi(q.Get("score"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("score must be an integer"))
			return
		}
		if err := m.store.AddScore(ctx, playerID, score); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		sc, err := m.store.Score(ctx, playerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeResult(w, sc)

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown endpoint "+r.URL.Path))
	}
}
