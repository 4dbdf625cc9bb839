// Package siplog wires the daemon's zerolog logger, including the
// optional rotating disk sink named by spec §6 (log.disk.*), grounded
// on the teacher's console-writer setup in
// emiago-sipgo/cmd/proxysip/main.go and example/proxysip/main.go.
package siplog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/initbar/sipd/internal/config"
)

// New builds the process-wide logger from log.* configuration. Console
// output always goes to stdout; a rotating file sink is added only when
// log.disk.enabled is true.
func New(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro},
	}

	if cfg.Disk.Enabled {
		name := cfg.Disk.Name
		if name == "" {
			name = "sipd.log"
		}
		writers = append(writers, &lumberjack.Logger{
			Filename: filepath(cfg.Disk.Path, name),
			MaxAge:   cfg.Disk.TotalDaysPreserved,
			Compress: true,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("service", "sipd").
		Logger()

	return logger
}

func filepath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
