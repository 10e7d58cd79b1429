package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geopresence/presence"
)

const (
	simTick  = 50 * time.Millisecond
	simZoom  = 14
	simDelay = time.Second
)

type simOptions struct {
	clients     int
	spread      float64 // 米
	speed       float64 // 米/秒
	showMetrics bool
}

func newSimloadCmd(v *viper.Viper) *cobra.Command {
	opts := simOptions{}
	cmd := &cobra.Command{
		Use:   "simload",
		Short: "Fire up many simulated clients walking away from the origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer presence.SyncLogger()
			return runFleet(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.clients, "clients", "n", 100, "number of clients")
	cmd.Flags().Float64Var(&opts.spread, "spread", 1500, "random start distance from origin in meters")
	cmd.Flags().Float64Var(&opts.speed, "speed", 2.5, "walking speed in meters per second")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print a metrics summary every second")
	return cmd
}

// fleet 管理全部模拟客户端的生命周期，指标共享
type fleet struct {
	mu      sync.RWMutex
	clients map[int]*simClient
	metrics *presence.Metrics
}

type simClient struct {
	idx  int
	eng  *presence.Engine
	sess *presence.Session
}

func newFleet() *fleet {
	return &fleet{clients: make(map[int]*simClient), metrics: &presence.Metrics{}}
}

func (f *fleet) add(c *simClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c.idx] = c
}

// connected 当前在线的客户端数
func (f *fleet) connected() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, c := range f.clients {
		if c.sess.Connected() {
			n++
		}
	}
	return n
}

func runFleet(ctx context.Context, cfg *presence.Config, opts simOptions) error {
	if opts.clients <= 0 {
		return fmt.Errorf("clients must be positive, got %d", opts.clients)
	}
	presence.Log.Infof("firing up %d clients", opts.clients)

	fl := newFleet()
	origin := presence.LngLat{Lng: cfg.Origin.Lng, Lat: cfg.Origin.Lat}
	seed := time.Now().UnixNano()

	var wg sync.WaitGroup
	for i := 0; i < opts.clients; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed + int64(idx)))
			if err := fl.runClient(ctx, cfg, opts, idx, origin, rnd); err != nil {
				presence.Log.Errorw("simulated client failed", "idx", idx, "err", err)
			}
		}(i)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				presence.Log.Infof("connected clients: %d/%d", fl.connected(), opts.clients)
			}
		}
	}()
	if opts.showMetrics {
		go printMetrics(ctx, fl.metrics)
	}

	wg.Wait()
	return nil
}

func (f *fleet) runClient(ctx context.Context, cfg *presence.Config, opts simOptions, idx int, origin presence.LngLat, rnd *rand.Rand) error {
	ident, _, err := presence.OpenIdentity(ctx, presence.NewMemoryStore(), fmt.Sprintf("sim-%d", idx),
		cfg.Origin, cfg.Viewport.Meters, rnd)
	if err != nil {
		return err
	}
	start := presence.DestinationPoint(origin, rnd.Float64()*opts.spread, rnd.Float64()*360)
	ident.MoveTo(start)
	ident.SetViewport(start, simZoom)
	ident.Rename(fmt.Sprintf("sim %d", idx))

	sess := newSession(cfg, f.metrics)
	eng, err := presence.NewEngine(*cfg, ident, sess, presence.WithMetrics(f.metrics))
	if err != nil {
		return err
	}
	eng.Attach(sess)
	f.add(&simClient{idx: idx, eng: eng, sess: sess})

	// 错开启动，避免所有客户端同时连接
	jitter := time.NewTimer(time.Duration(rnd.Float64() * float64(simDelay)))
	select {
	case <-ctx.Done():
		jitter.Stop()
		return nil
	case <-jitter.C:
	}

	go walk(ctx, eng, start, rnd.Float64()*360, opts.speed)
	runPair(ctx, eng, sess)
	return nil
}

// walk 沿固定方位匀速移动，位置变化只作为发布提示提交给引擎
func walk(ctx context.Context, eng *presence.Engine, pos presence.LngLat, bearing, speed float64) {
	ticker := time.NewTicker(simTick)
	defer ticker.Stop()
	step := speed * simTick.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos = presence.DestinationPoint(pos, step, bearing)
			next := pos
			if !eng.Submit(func() {
				eng.Identity().SetViewport(next, simZoom)
				eng.MoveTo(next)
			}) {
				return
			}
		}
	}
}
