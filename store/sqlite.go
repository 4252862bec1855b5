package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tankarena/game"
)

const schema = `
CREATE TABLE IF NOT EXISTS tank_properties (
	id    TEXT PRIMARY KEY,
	type  TEXT NOT NULL,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS maps (
	id     TEXT PRIMARY KEY,
	map    TEXT NOT NULL,
	spawns TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS game_sessions (
	session_id TEXT PRIMARY KEY,
	map        TEXT DEFAULT NULL,
	status     INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS game_sessions_players (
	session_id TEXT,
	player_id  TEXT,
	game_data  TEXT,
	UNIQUE(session_id, player_id)
);
CREATE TABLE IF NOT EXISTS scores (
	player_id TEXT PRIMARY KEY,
	wins      INTEGER DEFAULT 0,
	loses     INTEGER DEFAULT 0
);`

// SQLite 基于 modernc.org/sqlite 的持久化实现
type SQLite struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库，建表并写入默认配件与地图
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite 写入串行；:memory: 也需要单连接才能共享同一个库
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tank_properties`).Scan(&n); err != nil {
		return fmt.Errorf("count properties: %w", err)
	}
	if n == 0 {
		for _, p := range defaultProperties() {
			if _, err := s.UpsertTankProperty(ctx, "", p.Type, p.Value); err != nil {
				return fmt.Errorf("seed properties: %w", err)
			}
		}
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM maps`).Scan(&n); err != nil {
		return fmt.Errorf("count maps: %w", err)
	}
	if n == 0 {
		m := DefaultMap()
		if _, err := s.UpsertMap(ctx, "", m.Cells, m.Spawns); err != nil {
			return fmt.Errorf("seed map: %w", err)
		}
	}
	return nil
}

func (s *SQLite) TankProperties(ctx context.Context) ([]game.Property, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, value FROM tank_properties ORDER BY type, value, id`)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()
	var out []game.Property
	for rows.Next() {
		var p game.Property
		if err := rows.Scan(&p.ID, &p.Type, &p.Value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertTankProperty id 为空时新建，返回记录 id
func (s *SQLite) UpsertTankProperty(ctx context.Context, id string, typ game.PropertyCategory, value int) (string, error) {
	if err := validateProperty(typ, value); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tank_properties (id, type, value) VALUES (?, ?, ?)`,
		id, string(typ), value)
	if err != nil {
		return "", fmt.Errorf("upsert property %s: %w", id, err)
	}
	return id, nil
}

func (s *SQLite) UpsertMap(ctx context.Context, id string, cells [][]int, spawns []game.Spawn) (string, error) {
	if err := validateMap(cells, spawns); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	cb, err := json.Marshal(cells)
	if err != nil {
		return "", err
	}
	sb, err := json.Marshal(spawns)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO maps (id, map, spawns) VALUES (?, ?, ?)`,
		id, string(cb), string(sb))
	if err != nil {
		return "", fmt.Errorf("upsert map %s: %w", id, err)
	}
	return id, nil
}

// RandomMap 随机取一张地图
func (s *SQLite) RandomMap(ctx context.Context) (*MapRecord, error) {
	var id, cells, spawns string
	err := s.db.QueryRowContext(ctx, `SELECT id, map, spawns FROM maps ORDER BY RANDOM() LIMIT 1`).
		Scan(&id, &cells, &spawns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("random map: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("random map: %w", err)
	}
	m := &MapRecord{ID: id}
	if err := json.Unmarshal([]byte(cells), &m.Cells); err != nil {
		return nil, fmt.Errorf("map %s cells: %w", id, err)
	}
	if err := json.Unmarshal([]byte(spawns), &m.Spawns); err != nil {
		return nil, fmt.Errorf("map %s spawns: %w", id, err)
	}
	return m, nil
}

func (s *SQLite) CreateSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO game_sessions (session_id) VALUES (?)`, id)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) UpdateSession(ctx context.Context, id string, u SessionUpdate) error {
	var sets []string
	var args []any
	if u.Map != nil {
		sets = append(sets, "map = ?")
		args = append(args, *u.Map)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE game_sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddPlayer 记录玩家及所选配件，并确保积分行存在
func (s *SQLite) AddPlayer(ctx context.Context, sessionID, playerID string, properties []string) error {
	data, err := json.Marshal(properties)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO game_sessions_players (session_id, player_id, game_data) VALUES (?, ?, ?)`,
		sessionID, playerID, string(data)); err != nil {
		return fmt.Errorf("add player %s: %w", playerID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO scores (player_id) VALUES (?)`, playerID); err != nil {
		return fmt.Errorf("add score row %s: %w", playerID, err)
	}
	return tx.Commit()
}

func (s *SQLite) Session(ctx context.Context, id string) (*Session, error) {
	sess := &Session{ID: id}
	var m sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT map, status FROM game_sessions WHERE session_id = ?`, id).
		Scan(&m, &sess.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	sess.Map = m.String
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id FROM game_sessions_players WHERE session_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("session %s players: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		sess.Players = append(sess.Players, p)
	}
	return sess, rows.Err()
}

// AddScore 正数记一胜，负数记一负，0 忽略
func (s *SQLite) AddScore(ctx context.Context, playerID string, score int) error {
	wins, loses := scoreDelta(score)
	if wins == 0 && loses == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (player_id, wins, loses) VALUES (?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET wins = wins + excluded.wins, loses = loses + excluded.loses`,
		playerID, wins, loses)
	if err != nil {
		return fmt.Errorf("add score %s: %w", playerID, err)
	}
	return nil
}

func (s *SQLite) Score(ctx context.Context, playerID string) (Score, error) {
	sc := Score{PlayerID: playerID}
	err := s.db.QueryRowContext(ctx, `SELECT wins, loses FROM scores WHERE player_id = ?`, playerID).
		Scan(&sc.Wins, &sc.Loses)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, fmt.Errorf("score %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return sc, fmt.Errorf("score %s: %w", playerID, err)
	}
	return sc, nil
}
