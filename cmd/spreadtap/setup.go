package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spreadtap/internal/config"
	"spreadtap/internal/metrics"
	"spreadtap/internal/metrics/datadog"
	"spreadtap/internal/retry"
	"spreadtap/internal/source"
	"spreadtap/internal/storage"
	"spreadtap/internal/tap"
)

// runEnv is everything a command needs once flags and environment are read.
type runEnv struct {
	ctx     context.Context
	rt      config.Runtime
	log     *zap.Logger
	cfg     *config.Config
	states  storage.Store
	closers []func()
}

func setup(cmd *cobra.Command, f flags) (*runEnv, error) {
	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(rt.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := checkConfig(cmd, cfg, f.configPath); err != nil {
		return nil, err
	}

	env := &runEnv{ctx: cmd.Context(), rt: rt, log: log, cfg: cfg}
	env.closers = append(env.closers, func() { _ = log.Sync() })
	env.setupMetrics()

	if rt.StateStore != "" {
		st, err := storage.New(env.ctx, storage.Config{Kind: rt.StateStore, DSN: rt.StateDSN})
		if err != nil {
			env.close()
			return nil, fmt.Errorf("state store: %w", err)
		}
		env.states = st
		env.closers = append(env.closers, func() {
			if err := st.Close(); err != nil {
				log.Warn("state store: close", zap.Error(err))
			}
		})
		log.Info("state store enabled", zap.String("kind", rt.StateStore))
	}
	return env, nil
}

// close runs the registered closers in reverse order.
func (e *runEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}

func (e *runEnv) setupMetrics() {
	switch e.rt.MetricsBackend {
	case "datadog":
		// Flushes every minute and once more on Close.
		tags := datadog.ParseTagsCSV(e.rt.MetricsTags)
		b, err := datadog.NewBackend(e.ctx, datadog.Options{JobName: e.rt.MetricsJob, Tags: tags})
		if err != nil {
			e.log.Warn("metrics: failed to init datadog backend; using nop", zap.Error(err))
			return
		}
		e.log.Info("metrics enabled", zap.String("backend", "datadog"),
			zap.String("job", e.rt.MetricsJob), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		e.closers = append(e.closers, func() {
			if err := b.Close(); err != nil {
				e.log.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		})
	case "", "none":
	default:
		e.log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", e.rt.MetricsBackend))
	}
}

func (e *runEnv) sourceOptions() source.Options {
	p := retry.DefaultPolicy()
	p.Retries = e.rt.RetryAttempts
	if e.rt.RetryInitialDelay > 0 {
		p.InitialDelay = e.rt.RetryInitialDelay
	}
	return source.Options{
		Logger:                e.log,
		HTTPRequestsPerSecond: e.rt.HTTPRequestsPerSecond,
		Retry:                 p,
	}
}

// newTap builds a Tap over the loaded config, expanding crawl entries first.
func (e *runEnv) newTap(out tap.Emitter, ckpt tap.Checkpointer) (*tap.Tap, error) {
	t, err := tap.New(tap.Options{
		Config:       e.cfg,
		Emitter:      out,
		Checkpointer: ckpt,
		Source:       e.sourceOptions(),
		Logger:       e.log,
	})
	if err != nil {
		return nil, err
	}
	if !hasCrawl(e.cfg) {
		return t, nil
	}
	expanded, err := t.ExpandCrawl(e.ctx)
	if err != nil {
		return nil, err
	}
	if err := config.Check(expanded); err != nil {
		return nil, fmt.Errorf("crawled config: %w", err)
	}
	e.cfg = expanded
	return t, nil
}

func hasCrawl(cfg *config.Config) bool {
	for _, t := range cfg.Tables {
		if t.CrawlConfig {
			return true
		}
	}
	return false
}
