package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"chathub/internal/chat"
	"chathub/internal/db"
	clog "chathub/internal/log"
	"chathub/internal/mw"
	"chathub/internal/server"
	"chathub/internal/store"
	"chathub/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 30 * time.Second
	persistTimeout  = 5 * time.Second
	limiterTTL      = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat hub (default command)",
	RunE:  runServe,
}

// runServe 加载配置、初始化日志与数据库、恢复房间状态，然后启动事件循环、
// 持久化 worker 与 HTTP 服务，收到信号后按顺序停止。
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	dl := store.NewGormLog(gdb)

	persister := chat.NewWriteBehind(cfg.PersistQueueSize, persistTimeout)
	hub := ws.NewHub()
	router := chat.NewRouter(dl, persister, hub)
	if err := router.Bootstrap(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("restore rooms from durable log; serving with in-memory defaults")
	}

	// 控制单个 IP+路由的速率；WebSocket 按连接限速入站事件。
	httpRL := mw.NewRateLimiter(rate.Every(time.Second/20), 40, limiterTTL)
	wsRL := mw.NewRateLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst, limiterTTL)
	go httpRL.GC(time.Minute)
	go wsRL.GC(time.Minute)

	engine := server.SetupRouter(cfg, server.Deps{
		Hub:         hub,
		Router:      router,
		Log:         dl,
		HTTPLimiter: httpRL,
		WSLimiter:   wsRL,
	})
	srv := &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Port).Msg("listen")
	}

	w := startWorkers(hub, router, persister, srv, ln)
	log.Info().Str("addr", ln.Addr().String()).Str("env", cfg.Env).Msg("chat hub listening")

	var runErr error
	// 收到信号或任一 goroutine 提前退出时触发关闭。
	wait := gfshutdown.GracefulShutdown(w.failed, shutdownTimeout, map[string]gfshutdown.Operation{
		"chathub": func(ctx context.Context) error {
			runErr = w.shutdown(ctx)
			if sqlDB, err := gdb.DB(); err == nil {
				runErr = errors.Join(runErr, sqlDB.Close())
			}
			return runErr
		},
		"rate-limiters": func(context.Context) error {
			httpRL.Stop()
			wsRL.Stop()
			return nil
		},
	})
	code := <-wait
	if code == 0 && runErr != nil {
		log.Error().Err(runErr).Msg("chat hub exited with error")
		code = 1
	}
	log.Info().Int("code", code).Msg("chat hub stopped")
	os.Exit(code)
	return nil
}

var errStoppedEarly = errors.New("stopped before shutdown")

// workers 持有事件循环、持久化 worker 与 HTTP 服务三个 goroutine。
type workers struct {
	g           *errgroup.Group
	failed      context.Context
	stopHub     context.CancelFunc
	stopPersist context.CancelFunc
	srv         *http.Server
	hub         *ws.Hub
}

// startWorkers 启动全部 goroutine。任一 goroutine 出错或在关闭前退出，failed 即结束。
func startWorkers(hub *ws.Hub, handler ws.EventHandler, persister *chat.WriteBehind, srv *http.Server, ln net.Listener) *workers {
	g, failed := errgroup.WithContext(context.Background())
	hubCtx, stopHub := context.WithCancel(context.Background())
	persistCtx, stopPersist := context.WithCancel(context.Background())

	g.Go(func() error {
		if err := hub.Run(hubCtx, handler); err != nil {
			return fmt.Errorf("hub: %w", err)
		}
		if hubCtx.Err() == nil {
			return fmt.Errorf("hub: %w", errStoppedEarly)
		}
		return nil
	})
	g.Go(func() error {
		if err := persister.Run(persistCtx); err != nil {
			return fmt.Errorf("persister: %w", err)
		}
		if persistCtx.Err() == nil {
			return fmt.Errorf("persister: %w", errStoppedEarly)
		}
		return nil
	})
	g.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if err == nil {
			err = errStoppedEarly
		}
		return fmt.Errorf("http: %w", err)
	})
	return &workers{g: g, failed: failed, stopHub: stopHub, stopPersist: stopPersist, srv: srv, hub: hub}
}

// shutdown 先停止接收请求，再停事件循环，最后把剩余的持久化写入落盘。
// 返回值包含提前退出的 goroutine 的错误。
func (w *workers) shutdown(ctx context.Context) error {
	err := w.srv.Shutdown(ctx)
	w.stopHub()
	<-w.hub.Done()
	w.stopPersist()
	return errors.Join(err, w.g.Wait())
}
