package tap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/metrics"
	"spreadtap/internal/probe"
	"spreadtap/internal/schema"
	"spreadtap/internal/singer"
	"spreadtap/internal/source"
)

// Discover samples every configured table and returns the catalog of the
// tables it could describe. A table that fails is logged, left out of the
// catalog and reported as skipped.
func (t *Tap) Discover(ctx context.Context) (*singer.Catalog, *Report) {
	cat := &singer.Catalog{Streams: []singer.CatalogEntry{}}
	rep := &Report{RunID: t.runID}

	for _, spec := range t.cfg.Tables {
		if ctx.Err() != nil {
			rep.add(Outcome{Table: spec.Name, Status: StatusSkipped, Err: ctx.Err()})
			continue
		}

		start := t.now()
		entry, sampled, err := t.discoverTable(ctx, spec)
		o := Outcome{Table: spec.Name, Status: StatusOK, Records: sampled, Duration: t.now().Sub(start)}
		if err != nil {
			o.Status, o.Err = StatusSkipped, err
			t.log.Error("unable to discover table, it will be skipped",
				zap.String("table", spec.Name), zap.Error(err))
		} else {
			cat.Streams = append(cat.Streams, entry)
		}
		metrics.RecordRecords(spec.Name, "sampled", sampled)
		metrics.RecordTable(spec.Name, "discover", string(o.Status), o.Duration)
		rep.add(o)
	}
	return cat, rep
}

func (t *Tap) discoverTable(ctx context.Context, spec config.TableSpec) (singer.CatalogEntry, int, error) {
	log := t.log.With(zap.String("table", spec.Name))

	store, err := t.store(ctx, spec.Path)
	if err != nil {
		return singer.CatalogEntry{}, 0, fmt.Errorf("open %s: %w", spec.Path, err)
	}
	files, err := source.Select(ctx, store, spec.SearchPrefix, spec.Pattern, spec.Start())
	if err != nil {
		return singer.CatalogEntry{}, 0, err
	}
	if len(files) == 0 {
		log.Warn("no files match, publishing provenance fields only",
			zap.String("pattern", spec.Pattern), zap.Time("start_date", spec.Start()))
	}

	sample, err := probe.Sample(ctx, store, spec, files, probe.OptionsFor(spec, log))
	if err != nil {
		return singer.CatalogEntry{}, len(sample), err
	}

	inferred := probe.Infer(sample, spec.PreferNumberVsInteger)
	for _, p := range provenanceFields {
		inferred.Set(p.name, p.field)
	}
	tbl := schema.ApplyOverrides(inferred, spec.SchemaOverrides, spec.Selected)

	keys := spec.KeyProperties
	if keys == nil {
		keys = []string{}
	}
	log.Info("discovered table",
		zap.Int("files", len(files)), zap.Int("sampled", len(sample)), zap.Int("fields", tbl.Len()))

	return singer.CatalogEntry{
		TapStreamID:   spec.Name,
		Stream:        spec.Name,
		Schema:        tbl,
		KeyProperties: keys,
		Metadata:      []singer.Metadata{},
	}, len(sample), nil
}
