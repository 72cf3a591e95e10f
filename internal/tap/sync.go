package tap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/format"
	"spreadtap/internal/metrics"
	"spreadtap/internal/schema"
	"spreadtap/internal/singer"
	"spreadtap/internal/source"
	"spreadtap/internal/state"
	"spreadtap/pkg/records"
)

// Sync extracts every selected stream of cat, mutating st as files complete.
//
// A nil catalog runs Discover first and syncs every stream it selects;
// tables discovery skipped are reported as skipped. The returned error
// joins the errors of failed tables; the Report is always non-nil.
func (t *Tap) Sync(ctx context.Context, st state.State, cat *singer.Catalog) (*Report, error) {
	if t.out == nil {
		return nil, fmt.Errorf("tap: sync needs an emitter")
	}
	rep := &Report{RunID: t.runID}

	if cat == nil {
		var drep *Report
		cat, drep = t.Discover(ctx)
		for _, o := range drep.Outcomes {
			if o.Status == StatusSkipped {
				rep.add(o)
			}
		}
	}

	for _, entry := range cat.Selected() {
		name := entry.TapStreamID
		spec, ok := t.cfg.TableByName(name)
		if !ok {
			t.log.Warn("skipping stream without a config block", zap.String("table", name))
			rep.add(Outcome{Table: name, Status: StatusSkipped, Err: fmt.Errorf("no table config for stream %q", name)})
			continue
		}
		if ctx.Err() != nil {
			rep.add(Outcome{Table: name, Status: StatusSkipped, Err: ctx.Err()})
			continue
		}

		start := t.now()
		o := t.syncTable(ctx, st, entry, spec)
		o.Duration = t.now().Sub(start)
		metrics.RecordTable(name, "sync", string(o.Status), o.Duration)

		fields := []zap.Field{
			zap.String("table", name), zap.String("status", string(o.Status)),
			zap.Int("files", o.Files), zap.Int("records", o.Records), zap.Duration("took", o.Duration),
		}
		if o.Err != nil {
			t.log.Error("table sync failed", append(fields, zap.Error(o.Err))...)
		} else {
			t.log.Info("table sync finished", fields...)
		}
		rep.add(o)
	}
	return rep, rep.Err()
}

// tableRun is the mutable progress of one table's sync.
type tableRun struct {
	name      string
	spec      config.TableSpec
	schema    *schema.Table
	store     source.Store
	version   int64
	remaining int // config.Unbounded or records left in the budget
	log       *zap.Logger
}

func (t *Tap) syncTable(ctx context.Context, st state.State, entry singer.CatalogEntry, spec config.TableSpec) Outcome {
	name := entry.TapStreamID
	o := Outcome{Table: name, Status: StatusOK}
	fail := func(err error) Outcome {
		o.Status, o.Err = StatusFailed, err
		return o
	}
	log := t.log.With(zap.String("table", name))

	store, err := t.store(ctx, spec.Path)
	if err != nil {
		return fail(fmt.Errorf("open %s: %w", spec.Path, err))
	}

	// Config edits since discovery win over the catalog's schema.
	base := entry.Schema
	if base == nil {
		base = schema.NewTable()
	}
	run := &tableRun{
		name:      name,
		spec:      spec,
		schema:    schema.ApplyOverrides(base, spec.SchemaOverrides, spec.Selected),
		store:     store,
		remaining: spec.RecordBudget(),
		log:       log,
	}

	if err := t.out.Schema(name, run.schema, entry.KeyProperties); err != nil {
		return fail(err)
	}

	initial := st.IsInitialSync(name)
	if spec.FullTableReplace {
		run.version = t.nextVersion()
		if initial {
			if err := t.out.ActivateVersion(name, run.version); err != nil {
				return fail(err)
			}
			log.Info("initial sync, activating version", zap.Int64("version", run.version))
		}
	}

	watermark := st.Watermark(name, spec.Start())
	files, err := source.Select(ctx, store, spec.SearchPrefix, spec.Pattern, watermark)
	if err != nil {
		return fail(err)
	}
	log.Info("syncing table", zap.Time("modified_since", watermark), zap.Int("files", len(files)))

	truncated := false
	for i, obj := range files {
		if run.remaining == 0 {
			truncated = true
			log.Info("record budget spent, stopping table", zap.Int("files_left", len(files)-i))
			break
		}

		n, err := t.streamFile(ctx, run, obj)
		o.Records += n
		metrics.RecordRecords(name, "emitted", n)

		if errors.Is(err, ErrBudgetExhausted) {
			truncated = true
			metrics.RecordFile(name, "truncated")
			log.Info("record budget spent mid-file, watermark not advanced",
				zap.String("file", obj.Key), zap.Int("emitted", n))
			break
		}
		if err != nil {
			metrics.RecordFile(name, "failed")
			return fail(fmt.Errorf("file %s: %w", obj.Key, err))
		}
		metrics.RecordFile(name, "ok")
		o.Files++

		st.Advance(name, obj.LastModified)
		if err := t.checkpoint(ctx, st); err != nil {
			return fail(err)
		}
	}

	if truncated {
		o.Status = StatusTruncated
		return o
	}

	if spec.FullTableReplace && (initial || o.Files > 0) {
		if err := t.out.ActivateVersion(name, run.version); err != nil {
			return fail(err)
		}
		log.Info("sync complete, activating version", zap.Int64("version", run.version))
	}
	if initial && spec.FullTableReplace {
		st.MarkInitialSyncComplete(name)
		if err := t.checkpoint(ctx, st); err != nil {
			return fail(err)
		}
	}
	return o
}

// streamFile emits the records of one file and returns how many were
// emitted. It returns ErrBudgetExhausted when the file holds more records
// than the budget has left; every record up to the budget is still emitted.
func (t *Tap) streamFile(ctx context.Context, run *tableRun, obj source.Object) (int, error) {
	flog := run.log.With(zap.String("file", obj.Key))

	rc, err := run.store.Open(ctx, obj.Key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	emitted := 0
	var sinkErr error
	emit := func(rec *records.Record) error {
		if run.remaining == 0 {
			return ErrBudgetExhausted
		}
		out := run.schema.Coerce(rec)
		out.Set(FieldSourceBucket, records.Text(run.spec.Path))
		out.Set(FieldSourceFile, records.Text(obj.Key))
		out.Set(FieldSourceLineno, records.Int(int64(emitted+1)))

		if err := t.out.Record(run.name, out, run.version, t.now()); err != nil {
			sinkErr = err
			return err
		}
		emitted++
		if run.remaining > 0 {
			run.remaining--
		}
		return nil
	}

	failFast := run.spec.FailOnInvalidFormat()
	onErr := func(line int, err error) error {
		if failFast {
			return fmt.Errorf("line %d: %w", line, err)
		}
		flog.Warn("skipping unreadable record", zap.Int("line", line), zap.Error(err))
		return nil
	}

	err = format.Decode(ctx, rc, obj.Key, run.spec, emit, onErr)
	switch {
	case err == nil:
	case sinkErr != nil:
		return emitted, sinkErr
	case errors.Is(err, ErrBudgetExhausted), ctx.Err() != nil, failFast:
		return emitted, err
	default:
		flog.Warn("skipping rest of unreadable file", zap.Int("emitted", emitted), zap.Error(err))
	}
	flog.Debug("file complete", zap.Int("emitted", emitted))
	return emitted, nil
}

// checkpoint publishes st as a STATE message and then persists it. It
// returns only after the write is durable.
func (t *Tap) checkpoint(ctx context.Context, st state.State) error {
	if err := t.out.State(st); err != nil {
		return err
	}
	if t.ckpt == nil {
		return nil
	}
	if err := t.ckpt.Save(ctx, st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}
