package logging

import (
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// instrumentationName names the otelzap scope.
const instrumentationName = "github.com/fyrsmithlabs/ragchat"

func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Console {
		var w io.Writer = os.Stdout
		if cfg.Output.Stderr {
			w = os.Stderr
		}
		c, err := newConsoleCore(cfg, zapcore.Lock(zapcore.AddSync(w)))
		if err != nil {
			return nil, err
		}
		cores = append(cores, c)
	}
	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, levelRange{Core: otelCore, min: cfg.Level, max: zapcore.FatalLevel})
	}
	if len(cores) == 0 {
		// OTEL was the only output and no provider is installed.
		return zapcore.NewNopCore(), nil
	}

	return sample(zapcore.NewTee(cores...), cfg.Sampling), nil
}

func newConsoleCore(cfg *Config, ws zapcore.WriteSyncer) (zapcore.Core, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	if cfg.Redaction.Enabled {
		r, err := NewRedactingEncoder(enc, cfg.Redaction)
		if err != nil {
			return nil, err
		}
		enc = r
	}
	return zapcore.NewCore(enc, ws, cfg.Level), nil
}

// sample throttles entries below error level. Errors and above bypass the
// sampler.
func sample(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	below := levelRange{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel}
	above := levelRange{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	return zapcore.NewTee(
		zapcore.NewSamplerWithOptions(below, cfg.Tick, cfg.Initial, cfg.Thereafter),
		above,
	)
}

// levelRange passes entries with min <= level <= max to Core.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
}

func (r levelRange) Enabled(lvl zapcore.Level) bool {
	return lvl >= r.min && lvl <= r.max && r.Core.Enabled(lvl)
}

func (r levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !r.Enabled(e.Level) {
		return ce
	}
	return r.Core.Check(e, ce)
}

func (r levelRange) With(fields []zapcore.Field) zapcore.Core {
	return levelRange{Core: r.Core.With(fields), min: r.min, max: r.max}
}
