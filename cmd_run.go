package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geopresence/presence"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		name        string
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a headless presence client",
		Long: `Connects to the presence server, publishes the local entity and keeps the
remote entity table and animation frames up to date until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer presence.SyncLogger()
			return runClient(cmd.Context(), cfg, name, showMetrics)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the local entity")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print a metrics summary every second")
	return cmd
}

func runClient(ctx context.Context, cfg *presence.Config, name string, showMetrics bool) error {
	store, closeStore, err := presence.OpenSessionStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer closeStore()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ident, restored, err := presence.OpenIdentity(ctx, store, cfg.Session.Key, cfg.Origin, cfg.Viewport.Meters, rnd)
	if err != nil {
		return err
	}
	presence.Log.Infow("local identity", "id", ident.ID(), "restored", restored, "backend", cfg.Session.Backend)

	metrics := &presence.Metrics{}
	opts := []presence.EngineOption{presence.WithMetrics(metrics)}
	if cfg.Chat.LogPath != "" {
		chatLog, err := presence.OpenSQLiteChatLog(ctx, cfg.Chat.LogPath)
		if err != nil {
			return err
		}
		defer chatLog.Close()
		opts = append(opts, presence.WithChatLog(chatLog))
	}

	sess := newSession(cfg, metrics)
	eng, err := presence.NewEngine(*cfg, ident, sess, opts...)
	if err != nil {
		return err
	}
	eng.Attach(sess)
	if name != "" {
		eng.Rename(name)
	}

	if cfg.Debug.Addr != "" {
		go serveDebug(ctx, cfg.Debug.Addr, presence.DebugHandler(eng, sess))
	}
	if showMetrics {
		go printMetrics(ctx, metrics)
	}

	runPair(ctx, eng, sess)
	return nil
}

func newSession(cfg *presence.Config, metrics *presence.Metrics) *presence.Session {
	return presence.NewSession(cfg.Server.URL,
		presence.WithReconnectDelay(cfg.Transport.ReconnectDelay),
		presence.WithPingInterval(cfg.Transport.PingInterval),
		presence.WithSessionMetrics(metrics),
	)
}

// runPair 运行引擎循环与连接循环，直到 ctx 取消
func runPair(ctx context.Context, eng *presence.Engine, sess *presence.Session) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = eng.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = sess.Run(ctx)
	}()
	wg.Wait()
}

func serveDebug(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	presence.Log.Infof("debug endpoints listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		presence.Log.Errorf("debug listen: %v", err)
	}
}

// printMetrics 每秒刷新一行指标摘要
func printMetrics(ctx context.Context, m *presence.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
			s := m.Snapshot()
			fmt.Printf("\rframes: %d (%.2fms avg), events: %d, publishes: %d, evictions: %d, dropped: %d, reconnects: %d",
				s["frame_count"], s["avg_frame_ms"], s["events_applied"], s["publishes"],
				s["evictions"], s["dropped_outbound"], s["reconnects"])
		}
	}
}
