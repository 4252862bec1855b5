package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务端启动配置，来源依次为默认值、.env、环境变量，命令行参数在 main 中覆盖
type Config struct {
	Addr         string
	LogFile      string
	LogLevel     string
	DBPath       string
	TickInterval time.Duration
	RoomCapacity int
	Codec        string
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		LogFile:      "app.log",
		LogLevel:     "debug",
		DBPath:       "game.sqlite3",
		TickInterval: 50 * time.Millisecond,
		RoomCapacity: 2,
		Codec:        "json",
	}
}

// Load 读取 envFile（不存在时忽略）后从 ARENA_* 环境变量组装配置
func Load(envFile string) (Config, error) {
	cfg := Default()
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if v, err := GetEnvVariable("ARENA_ADDR"); err == nil {
		cfg.Addr = v
	}
	if v, err := GetEnvVariable("ARENA_LOG_FILE"); err == nil {
		cfg.LogFile = v
	}
	if v, err := GetEnvVariable("ARENA_LOG_LEVEL"); err == nil {
		cfg.LogLevel = v
	}
	if v, err := GetEnvVariable("ARENA_DB_PATH"); err == nil {
		cfg.DBPath = v
	}
	if v, err := GetEnvVariable("ARENA_CODEC"); err == nil {
		cfg.Codec = v
	}
	if v, err := GetEnvVariable("ARENA_TICK_MS"); err == nil {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("ARENA_TICK_MS=%q: must be a positive integer", v)
		}
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if v, err := GetEnvVariable("ARENA_ROOM_CAPACITY"); err == nil {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 {
			return cfg, fmt.Errorf("ARENA_ROOM_CAPACITY=%q: must be an integer >= 2", v)
		}
		cfg.RoomCapacity = n
	}
	return cfg, nil
}

func GetEnvVariable(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("input param empty")
	}
	b := os.Getenv(v)
	if b == "" {
		return "", fmt.Errorf("failed to get variable for %s", v)
	}
	return b, nil
}
