package presence

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger；未初始化时为 Nop，库内调用与测试都不会空指针
var Log = zap.NewNop().Sugar()

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`    // 为空则不写文件
	Console bool   `mapstructure:"console"` // 同时输出到 stderr
}

// InitLogger 初始化 zap 日志到本地文件（支持滚动），可选同时输出到控制台
func InitLogger(cfg LogConfig) error {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)
	level := parseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.File != "" {
		// 文件滚动策略：10MB 每文件，保留3个备份
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   false,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(lj), level))
	}
	if cfg.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Log = logger.Sugar()
	return nil
}

// SyncLogger 清理和同步缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// parseLevel 无法识别的级别按 info 处理
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
