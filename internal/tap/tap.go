// Package tap drives discovery and incremental sync for every configured
// table.
//
// Tables are processed one at a time in catalog order. Within a table,
// files are streamed strictly in selection order and the table's watermark
// is checkpointed after each file that was emitted completely, so a crashed
// or budget-limited run re-reads at most one file on the next run.
//
// Each table ends with an Outcome in the run's Report. A failing table never
// stops the others.
package tap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/schema"
	"spreadtap/internal/source"
	"spreadtap/internal/state"
	"spreadtap/pkg/records"
)

// Provenance properties added to every discovered schema and every record.
const (
	FieldSourceBucket = "_smart_source_bucket"
	FieldSourceFile   = "_smart_source_file"
	FieldSourceLineno = "_smart_source_lineno"
)

// ErrBudgetExhausted stops a file once the table's per-run record budget is
// spent. It is a normal end of a run, not a failure.
var ErrBudgetExhausted = errors.New("tap: record budget exhausted")

// Emitter receives Singer messages. *singer.Writer satisfies it.
type Emitter interface {
	Schema(stream string, s *schema.Table, keyProperties []string) error
	Record(stream string, rec *records.Record, version int64, extracted time.Time) error
	State(value any) error
	ActivateVersion(stream string, version int64) error
}

// Checkpointer durably persists state. storage.Store satisfies it.
type Checkpointer interface {
	Save(ctx context.Context, st state.State) error
}

// StoreOpener opens the store for a table root.
type StoreOpener func(ctx context.Context, root string) (source.Store, error)

// Options configures a Tap.
type Options struct {
	Config *config.Config

	// Emitter is required for Sync.
	Emitter Emitter

	// Checkpointer, when set, is called after every STATE message. Without
	// one, state only travels on the STATE messages.
	Checkpointer Checkpointer

	// Source is passed to source.Open when OpenStore is nil.
	Source    source.Options
	OpenStore StoreOpener

	Logger *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Tap runs discovery and sync over one configuration.
type Tap struct {
	cfg   *config.Config
	out   Emitter
	ckpt  Checkpointer
	open  StoreOpener
	log   *zap.Logger
	now   func() time.Time
	runID string

	stores      map[string]source.Store
	lastVersion int64
}

// New builds a Tap. The config must already be validated.
func New(opts Options) (*Tap, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("tap: nil config")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	open := opts.OpenStore
	if open == nil {
		so := opts.Source
		if so.Logger == nil {
			so.Logger = log
		}
		open = func(ctx context.Context, root string) (source.Store, error) {
			return source.Open(ctx, root, so)
		}
	}

	runID := uuid.NewString()
	return &Tap{
		cfg:    opts.Config,
		out:    opts.Emitter,
		ckpt:   opts.Checkpointer,
		open:   open,
		log:    log.With(zap.String("run_id", runID)),
		now:    now,
		runID:  runID,
		stores: make(map[string]source.Store),
	}, nil
}

// RunID identifies this Tap's run in logs and reports.
func (t *Tap) RunID() string { return t.runID }

// Config returns the configuration in use, including crawl expansion.
func (t *Tap) Config() *config.Config { return t.cfg }

// store returns the cached store for root, opening it on first use.
func (t *Tap) store(ctx context.Context, root string) (source.Store, error) {
	if s, ok := t.stores[root]; ok {
		return s, nil
	}
	s, err := t.open(ctx, root)
	if err != nil {
		return nil, err
	}
	t.stores[root] = s
	return s, nil
}

// nextVersion mints a full-replace version: the current Unix millisecond,
// bumped when needed so versions strictly increase within the process.
func (t *Tap) nextVersion() int64 {
	v := t.now().UnixMilli()
	if v <= t.lastVersion {
		v = t.lastVersion + 1
	}
	t.lastVersion = v
	return v
}

// provenanceFields are appended to every discovered schema, replacing any
// sampled column of the same name.
var provenanceFields = []struct {
	name  string
	field schema.Field
}{
	{FieldSourceBucket, schema.Of(schema.TypeString)},
	{FieldSourceFile, schema.Of(schema.TypeString)},
	{FieldSourceLineno, schema.Of(schema.TypeInteger)},
}
