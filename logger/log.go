package logger

import (
	"strings"
	"sync"
	"time"

	"nudock/errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger
var log *zap.SugaredLogger
var initLock sync.Mutex
var initialised bool

func init() {
	initialise(zapcore.InfoLevel, "console", false)
}

type Config struct {
	Format string `help:"Format to write log lines in" enum:"console,json" default:"console"`
	Level  string `help:"Lowest log level that will be emitted" enum:"debug,info,warn,error" default:"info"`
}

func (cfg *Config) Configure() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		return errors.NewConfigErrorf("invalid log level %q", cfg.Level)
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format != "console" && format != "json" {
		return errors.NewConfigError("log-format must be one of 'console' or 'json'")
	}
	Initialise(level, format)
	return nil
}

var DebugEnabled = false

func Initialise(level zapcore.Level, encoding string) {
	initialise(level, encoding, true)
}

func initialise(level zapcore.Level, encoding string, override bool) {
	initLock.Lock()
	defer initLock.Unlock()
	if initialised && !override {
		return
	}
	logger = createLogger(level, encoding)
	log = logger.Sugar()

	// Cached as a plain bool - never changed after initialisation.
	DebugEnabled = log.Desugar().Core().Enabled(zap.DebugLevel)

	initialised = true
}

func createLogger(level zapcore.Level, encoding string) *zap.Logger {
	encoderConf := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	conf := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderConf,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stdout"},
	}
	conf.DisableCaller = true
	conf.DisableStacktrace = true
	l, _ := conf.Build()
	return l
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.999999"))
}

func Debug(args ...interface{}) {
	if !DebugEnabled {
		return
	}
	log.Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(args ...interface{}) {
	log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warn(args ...interface{}) {
	log.Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Error(args ...interface{}) {
	log.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
