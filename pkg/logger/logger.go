package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志实例，InitLogger 之前为 Nop，避免空指针
var Log = zap.NewNop()

// InitLogger 初始化日志
// env 为 prod 时输出 JSON，其它环境输出便于阅读的 console 格式
func InitLogger(env string, debug bool) error {
	var cfg zap.Config
	if env == "prod" || env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Log = l.With(zap.Int("pid", os.Getpid()))
	return nil
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = Log.Sync()
}
