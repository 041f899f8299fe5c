package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

func New(env string) *Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}

	return &Logger{sugar: l.Sugar()}
}

// NewNop returns a logger that discards everything. Meant for tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Info(v ...interface{}) {
	l.sugar.Info(v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.sugar.Error(v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *Logger) Debug(v ...interface{}) {
	l.sugar.Debug(v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *Logger) Warn(v ...interface{}) {
	l.sugar.Warn(v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.sugar.Fatal(v...)
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
