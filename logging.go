package main

import (
	"go.uber.org/zap"
)

// Logger is the logging surface components depend on.
type Logger interface {
	Log(format string, args ...any)
}

// zapLogger adapts a zap SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Log(format string, args ...any) {
	z.s.Infof(format, args...)
}

func newZapLogger(verbose bool) (*zapLogger, func(), error) {
	var (
		base *zap.Logger
		err  error
	)
	if verbose {
		base, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = "ts"
		base, err = cfg.Build()
	}
	if err != nil {
		return nil, nil, err
	}
	sync := func() { _ = base.Sync() }
	return &zapLogger{s: base.Sugar()}, sync, nil
}

// prefixLogger wraps a logger with a bracketed tag, e.g. a batch id or account name.
type prefixLogger struct {
	tag  string
	base Logger
}

func withPrefix(base Logger, tag string) Logger {
	return &prefixLogger{tag: tag, base: base}
}

func (p *prefixLogger) Log(format string, args ...any) {
	p.base.Log("[%s] "+format, append([]any{p.tag}, args...)...)
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}
