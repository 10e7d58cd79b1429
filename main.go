package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geopresence/presence"
)

var (
	version = "0.1.0-dev"
	cfgFile string
)

// geopresence 入口：无界面的位置共享客户端与压测工具
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:          "geopresence",
		Short:        "Real-time geographic presence client",
		Version:      version,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default ./geopresence.yaml)")
	pf.String("server", "", "websocket server url, e.g. ws://localhost:8000/ws")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-file", "", "rotating log file path")
	_ = v.BindPFlag("server.url", pf.Lookup("server"))
	_ = v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("log.file", pf.Lookup("log-file"))

	rootCmd.AddCommand(
		newRunCmd(v),
		newSimloadCmd(v),
	)

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig 加载配置并初始化日志；配置错误直接返回，不进入运行
func loadConfig(v *viper.Viper) (*presence.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	cfg, err := presence.LoadConfig(v)
	if err != nil {
		return nil, err
	}
	if err := presence.InitLogger(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
