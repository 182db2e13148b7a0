package zlog

import (
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var dynamicLevel = zap.NewAtomicLevel()
var levelName atomic.Value

func initLevel(lvl string) {
	SetLevel(lvl)
}

func parseLevel(lvl string) (zapcore.Level, bool) {
	switch strings.ToLower(lvl) {
	case "debug":
		return zap.DebugLevel, true
	case "info":
		return zap.InfoLevel, true
	case "warn":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	default:
		return zap.InfoLevel, false
	}
}

// SetLevel 修改所有由 New 创建的 logger 的级别，未知级别退回 info
func SetLevel(lvl string) {
	l, ok := parseLevel(lvl)
	if !ok {
		lvl = "info"
	}
	dynamicLevel.SetLevel(l)
	levelName.Store(strings.ToLower(lvl))
}

func GetLevel() string {
	if v, ok := levelName.Load().(string); ok {
		return v
	}
	return "info"
}

// LevelHTTPHandler 提供 /log/level，GET 返回当前级别，PUT ?v=debug 修改级别
func LevelHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			lvl := r.URL.Query().Get("v")
			if lvl == "" {
				lvl = r.FormValue("v")
			}
			if _, ok := parseLevel(lvl); !ok {
				http.Error(w, "unknown level", http.StatusBadRequest)
				return
			}
			SetLevel(lvl)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		_, _ = w.Write([]byte(GetLevel()))
	}
}
