// Package probe samples table files and infers their schema.
//
// Sampling reads a bounded stride of records from the first few candidate
// files; inference folds every sampled value into a per-field type using a
// widening join, so the published type always admits every sampled value.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/format"
	"spreadtap/internal/source"
	"spreadtap/pkg/records"
)

// Opener opens an object for reading. source.Store satisfies it.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SampleOptions bounds a sampling pass. Zero values take the table's
// configured (or default) limits.
type SampleOptions struct {
	Rate       int
	MaxRecords int
	MaxFiles   int
	Logger     *zap.Logger
}

// OptionsFor returns the sampling limits configured for spec.
func OptionsFor(spec config.TableSpec, log *zap.Logger) SampleOptions {
	return SampleOptions{
		Rate:       spec.SampleRateOrDefault(),
		MaxRecords: spec.MaxSamplingReadOrDefault(),
		MaxFiles:   spec.MaxSampledFilesOrDefault(),
		Logger:     log,
	}
}

var errSampleFull = errors.New("probe: sample full")

// Sample reads records from files in order and keeps every Rate-th record of
// each file, starting with the first, until MaxRecords are kept or MaxFiles
// files have been read.
//
// Decode problems follow the table's invalid_format_action: with "ignore"
// the bad record or the rest of the bad file is skipped with a warning,
// otherwise the error is returned. Failing to open a file is always an
// error.
func Sample(ctx context.Context, o Opener, spec config.TableSpec, files []source.Object, opt SampleOptions) ([]*records.Record, error) {
	if opt.Rate <= 0 {
		opt.Rate = spec.SampleRateOrDefault()
	}
	if opt.MaxRecords <= 0 {
		opt.MaxRecords = spec.MaxSamplingReadOrDefault()
	}
	if opt.MaxFiles <= 0 {
		opt.MaxFiles = spec.MaxSampledFilesOrDefault()
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	failFast := spec.FailOnInvalidFormat()

	var out []*records.Record
	for n, obj := range files {
		if n >= opt.MaxFiles || len(out) >= opt.MaxRecords {
			break
		}
		flog := log.With(zap.String("table", spec.Name), zap.String("file", obj.Key))

		rc, err := o.Open(ctx, obj.Key)
		if err != nil {
			return out, fmt.Errorf("probe: open %s: %w", obj.Key, err)
		}

		i := 0
		emit := func(rec *records.Record) error {
			keep := i%opt.Rate == 0
			i++
			if !keep {
				return nil
			}
			out = append(out, rec)
			if len(out) >= opt.MaxRecords {
				return errSampleFull
			}
			return nil
		}
		onErr := func(line int, err error) error {
			if failFast {
				return fmt.Errorf("line %d: %w", line, err)
			}
			flog.Warn("skipping unreadable record", zap.Int("line", line), zap.Error(err))
			return nil
		}

		err = format.Decode(ctx, rc, obj.Key, spec, emit, onErr)
		_ = rc.Close()

		switch {
		case err == nil, errors.Is(err, errSampleFull):
		case ctx.Err() != nil:
			return out, ctx.Err()
		case failFast:
			return out, fmt.Errorf("probe: decode %s: %w", obj.Key, err)
		default:
			flog.Warn("skipping unreadable file", zap.Error(err))
		}
		flog.Debug("sampled file", zap.Int("read", i), zap.Int("kept_total", len(out)))
	}
	return out, nil
}
