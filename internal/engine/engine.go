package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// DefaultMaxDepth is the traversal depth used when a definition does not
// set traversal.max_depth.
const DefaultMaxDepth = 3

// DefaultCacheSize is the number of containers the result cache keeps.
const DefaultCacheSize = 128

// DefinitionCatalogType is the catalog type under which definitions are
// registered by name.
const DefinitionCatalogType = projection.DefinitionNamespace

// Engine executes projection definitions against a store.
//
// Thread-safety model:
//   - Execute, Sequence, Parallel, Emit: safe from any goroutine
//   - each execution owns its state (snapshot, node budget, composition
//     trace); the only shared state is the store, the definition table and
//     the result cache, all safe for concurrent use
//
// INVARIANTS:
//   - an execution reads only resources visible at its snapshot
//   - the same (definition, params, snapshot) yields a byte-identical
//     container, regardless of concurrency settings
//   - nothing is written to the store except through Emit
type Engine struct {
	store  *store.Store
	ids    IDGenerator
	logger *slog.Logger
	tracer trace.Tracer
	cache  *ResultCache

	maxDepth    int
	maxNodes    int
	concurrency int

	defs      sync.Map // ir.CID -> *projection.Definition
	confirmed sync.Map // store.CatalogKey -> store.Snapshot
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithMaxDepth sets the traversal depth for definitions that leave it unset.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithMaxNodes sets the node budget per top-level execution.
//
// Default: 10000 nodes (DefaultMaxNodes)
// Use WithMaxNodes(0) to disable the budget.
func WithMaxNodes(n int) Option {
	return func(e *Engine) {
		e.maxNodes = n
	}
}

// WithConcurrency bounds parallel fetches per traversal level and parallel
// compositions.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithCacheSize sets the result cache capacity. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cache = NewResultCache(n)
	}
}

// WithIDGenerator sets the execution ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracer sets the tracer for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an Engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/roach88/prism/internal/engine"),
		cache:       NewResultCache(DefaultCacheSize),
		maxDepth:    DefaultMaxDepth,
		maxNodes:    DefaultMaxNodes,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the store the engine reads and writes.
func (e *Engine) Store() *store.Store {
	return e.store
}

// DefinitionKey is the catalog key a definition is registered under.
func DefinitionKey(name string) (store.CatalogKey, error) {
	hash, err := ir.ParamsHash(ir.Obj(ir.O("name", ir.IRString(name))))
	if err != nil {
		return store.CatalogKey{}, err
	}
	return store.CatalogKey{Type: DefinitionCatalogType, ParamsHash: hash}, nil
}

// Define checks definition content and stores it. The definition and its
// catalog entry are committed together; defining identical content again
// is a no-op.
func (e *Engine) Define(ctx context.Context, data []byte) (*projection.Definition, error) {
	c, err := ir.Canonicalize(data)
	if err != nil {
		return nil, err
	}
	return e.define(ctx, c)
}

// DefineValue is Define for a structured value.
func (e *Engine) DefineValue(ctx context.Context, v ir.IRValue) (*projection.Definition, error) {
	c, err := ir.CanonicalizeValue(v)
	if err != nil {
		return nil, err
	}
	return e.define(ctx, c)
}

func (e *Engine) define(ctx context.Context, c ir.Canonical) (*projection.Definition, error) {
	def, err := projection.Compile(c)
	if err != nil {
		return nil, err
	}
	key, err := DefinitionKey(def.Name)
	if err != nil {
		return nil, err
	}
	res, err := e.store.Commit(ctx, store.Batch{
		Records: []store.Record{store.NewRecord(c)},
		Catalog: []store.CatalogEntry{{Key: key, CID: def.CID, Snapshot: store.Latest, Refresh: projection.RefreshManual}},
	})
	if err != nil {
		return nil, fmt.Errorf("define %s: %w", def.Name, err)
	}
	e.defs.Store(def.CID, def)
	e.logger.Debug("defined projection", "name", def.Name, "cid", def.CID, "seq", res.Seq, "changed", res.Changed())
	return def, nil
}

// Bootstrap stores the meta-projection.
func (e *Engine) Bootstrap(ctx context.Context) (*projection.Definition, error) {
	return e.DefineValue(ctx, projection.MetaDefinition())
}

// Load returns the compiled definition stored under cid.
func (e *Engine) Load(ctx context.Context, cid ir.CID) (*projection.Definition, error) {
	if def, ok := e.defs.Load(cid); ok {
		return def.(*projection.Definition), nil
	}
	res, err := e.store.Get(ctx, cid, store.Latest)
	if err != nil {
		return nil, err
	}
	def, err := projection.Compile(ir.Canonical{Kind: res.Kind, Bytes: res.Data, Value: res.Value})
	if err != nil {
		return nil, &ExecutionError{
			Code:       ErrCodeInvalidDefinition,
			Definition: cid,
			Message:    "stored definition does not compile",
			Err:        err,
		}
	}
	actual, _ := e.defs.LoadOrStore(cid, def)
	return actual.(*projection.Definition), nil
}

// Resolve loads a definition by CID or by registered name.
func (e *Engine) Resolve(ctx context.Context, ref string) (*projection.Definition, error) {
	if ir.IsCID(ref) {
		return e.Load(ctx, ir.CID(ref))
	}
	key, err := DefinitionKey(ref)
	if err != nil {
		return nil, err
	}
	entry, ok, err := e.store.Lookup(ctx, key, store.Latest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no definition named %q", ref)
	}
	return e.Load(ctx, entry.CID)
}

// head resolves the snapshot a request runs at.
func (e *Engine) head(ctx context.Context, pinned *store.Snapshot) (store.Snapshot, error) {
	if pinned != nil {
		if *pinned < 0 {
			return 0, fmt.Errorf("snapshot %d is not a commit marker", *pinned)
		}
		current, err := e.store.Snapshot(ctx)
		if err != nil {
			return 0, err
		}
		// A marker past the head would see later commits.
		if *pinned > current {
			return 0, fmt.Errorf("%w: %d is past head %d", ErrFutureSnapshot, *pinned, current)
		}
		return *pinned, nil
	}
	return e.store.Snapshot(ctx)
}

// execution is the per-request state. It is never shared between
// top-level executions; nested compositions share their parent's.
type execution struct {
	id     string
	snap   store.Snapshot
	budget *NodeBudget
	fetch  *snapshotFetcher
}

func (x *execution) fail(def *projection.Definition, code ExecutionErrorCode, msg string, err error) error {
	return &ExecutionError{
		Code:        code,
		Definition:  def.CID,
		ExecutionID: x.id,
		Message:     msg,
		Err:         err,
	}
}

func (e *Engine) newExecution(snap store.Snapshot) *execution {
	return &execution{
		id:     e.ids.Generate(),
		snap:   snap,
		budget: NewNodeBudget(e.maxNodes),
		fetch:  &snapshotFetcher{store: e.store, snap: snap},
	}
}

