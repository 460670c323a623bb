// Package logger builds the zap loggers used by the server.  Loggers are
// returned to the caller and passed down explicitly; nothing here touches
// zap's globals.
package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/grow4bot/internal/config"
)

// New returns a logger that writes JSON lines to stdout and, when
// cfg.Filename is set, to a size-rotated file.  The returned flush
// function must be called before the process exits.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, err
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	var buffered *zapcore.BufferedWriteSyncer
	if cfg.Filename != "" {
		buffered = &zapcore.BufferedWriteSyncer{
			WS:            zapcore.AddSync(rotating(cfg)),
			Size:          256 * 1024,
			FlushInterval: 5 * time.Second,
		}
		syncers = append(syncers, buffered)
	}

	core := zapcore.NewCore(encoder(), zapcore.NewMultiWriteSyncer(syncers...), level)
	log := zap.New(core, zap.AddCaller())
	flush := func() {
		_ = log.Sync()
		if buffered != nil {
			_ = buffered.Stop()
		}
	}
	return log, flush, nil
}

// NewFile returns an info-level logger that only appends to filename.  The
// audit consumer uses it for the ledger trail.
func NewFile(filename string, cfg config.LogConfig) *zap.Logger {
	cfg.Filename = filename
	core := zapcore.NewCore(encoder(), zapcore.AddSync(rotating(cfg)), zapcore.InfoLevel)
	return zap.New(core)
}

func rotating(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

func encoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}
