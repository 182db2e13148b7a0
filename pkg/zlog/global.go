package zlog

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// MustInitGlobal 创建 logger 并替换 zap 全局实例，标准库 log 也转到它上面。
// 收到 SIGHUP 时在 debug 和 info 之间切换
func MustInitGlobal(cfg Config) *zap.Logger {
	l, err := New(cfg)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l.Named("stdlog"))
	watchSIGHUP(l.Named("zlog"))
	return l
}

func watchSIGHUP(l *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		for range sig {
			next := "debug"
			if GetLevel() == "debug" {
				next = "info"
			}
			SetLevel(next)
			l.Info("log level toggled", zap.String("level", next))
		}
	}()
}
