package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tankarena/config"
	"tankarena/protocol"
	"tankarena/server"
	"tankarena/store"
)

// TankArena 入口：加载配置，打开存储，启动 HTTP + WebSocket 服务
func main() {
	// .env 可选，不存在时只读环境变量
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	// 命令行参数覆盖 .env 与环境变量
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path, :memory: keeps everything in process")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "lockstep tick interval")
	flag.IntVar(&cfg.RoomCapacity, "capacity", cfg.RoomCapacity, "players per room")
	flag.StringVar(&cfg.Codec, "codec", cfg.Codec, "wire codec: json or msgpack")
	flag.Parse()

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		server.Log.Fatalf("codec: %v", err)
	}

	var db server.Store
	if cfg.DBPath == ":memory:" {
		db = store.NewMemory()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sqlite, err := store.Open(ctx, cfg.DBPath)
		cancel()
		if err != nil {
			server.Log.Fatalf("open store: %v", err)
		}
		defer sqlite.Close()
		db = sqlite
	}

	rm := server.NewRoomManager(server.ManagerOptions{
		Capacity:     cfg.RoomCapacity,
		TickInterval: cfg.TickInterval,
		Codec:        codec,
		Store:        db,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rm.HandleWS)
	mux.HandleFunc("/api/", rm.HandleAPI)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", rm.HandleAdminConfig)
	mux.HandleFunc("/metrics", rm.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		server.Log.Infof("TankArena listening on %s (codec=%s tick=%s capacity=%d)",
			cfg.Addr, codec.Name(), cfg.TickInterval, cfg.RoomCapacity)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）：先停止接入，再关闭房间并写完对局记录
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Warnw("http shutdown", "err", err)
	}
	if err := rm.Shutdown(ctx); err != nil {
		server.Log.Warnw("room shutdown", "err", err)
	}
}
