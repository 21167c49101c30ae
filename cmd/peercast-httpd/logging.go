package main

import (
	"encoding/json"

	"github.com/astaxie/beego/logs"

	"github.com/kumaryu/peercaststation-sub002/internal/obs"
)

// beeLogger routes obs levels onto a beego logger.
type beeLogger struct {
	bl *logs.BeeLogger
}

func newBeeLogger(file string, debug bool) (*beeLogger, error) {
	bl := logs.NewLogger()
	level := logs.LevelInformational
	if debug {
		level = logs.LevelDebug
	}
	bl.SetLevel(level)
	if file == "" {
		if err := bl.SetLogger(logs.AdapterConsole); err != nil {
			return nil, err
		}
		return &beeLogger{bl: bl}, nil
	}
	cfg, err := json.Marshal(map[string]interface{}{"filename": file, "level": level, "daily": true, "maxdays": 7})
	if err != nil {
		return nil, err
	}
	if err := bl.SetLogger(logs.AdapterFile, string(cfg)); err != nil {
		return nil, err
	}
	return &beeLogger{bl: bl}, nil
}

func (l *beeLogger) Logf(level obs.Level, format string, args ...interface{}) {
	switch level {
	case obs.Debug:
		l.bl.Debug(format, args...)
	case obs.Info:
		l.bl.Info(format, args...)
	case obs.Warn:
		l.bl.Warn(format, args...)
	default:
		l.bl.Error(format, args...)
	}
}

func (l *beeLogger) Close() {
	l.bl.Flush()
	l.bl.Close()
}
