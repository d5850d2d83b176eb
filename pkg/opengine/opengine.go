// Package opengine implements the central state machine from spec.md
// §4.C: every multi-tier write runs GlobalPre -> LocalSource -> LocalTarget
// -> GlobalPost -> UpdateCache, with a well-defined Undo chain run on
// failure. The engine itself is storage-agnostic — it only orchestrates
// phase callbacks supplied by pkg/shardmap and pkg/recovery, wraps each in
// the retry policy, and combines Undo failures without masking the
// original cause (go.uber.org/multierr).
//
// Grounded on the teacher's pkg/resharder (precopy/deltasync/cutover/
// validate phase sequencing) and pkg/failover (try/verify/rollback).
package opengine

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
	"github.com/elasticshard/shardmap/pkg/metrics"
	"github.com/elasticshard/shardmap/pkg/model"
	"github.com/elasticshard/shardmap/pkg/retry"
)

// Phase is one state-machine phase. It must be idempotent and bounded: the
// retry loop may call it more than once with no user-supplied input beyond
// what was already captured in the closure.
type Phase func(ctx context.Context) error

// Phases is the full set of callbacks for one operation execution. Single-
// shard operations leave LocalTarget (and UndoLocalTarget) nil.
type Phases struct {
	OperationID string
	Code        model.OperationCode

	GlobalPre   Phase
	LocalSource Phase
	LocalTarget Phase // nil for single-shard operations
	GlobalPost  Phase
	UpdateCache func() // cache writes are in-process and cannot fail the operation

	UndoLocalTarget Phase
	UndoLocalSource Phase
	UndoGlobalPost  Phase
}

type Engine struct {
	policy retry.Policy
	logger *zap.Logger
}

func New(policy retry.Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policy: policy, logger: logger}
}

// Execute runs p's phases in order, retrying transient failures within a
// phase and running the Undo chain on a terminal failure or cancellation.
// It returns the terminal error from whichever phase failed; Undo failures
// are logged but never replace that error.
func (e *Engine) Execute(ctx context.Context, p Phases) error {
	if err := ctx.Err(); err != nil {
		return shardmaperr.Wrap(err, shardmaperr.CategoryGeneral, shardmaperr.CodeCanceled, "canceled before GlobalPre").
			WithOperation(p.OperationID, "GlobalPre")
	}

	if err := e.runPhase(ctx, p, "GlobalPre", p.GlobalPre); err != nil {
		e.recordOutcome(p.Code, "failed_global_pre")
		return err
	}

	if err := e.checkpoint(ctx, p, model.UndoGlobalPost); err != nil {
		return err
	}

	if err := e.runPhase(ctx, p, "LocalSource", p.LocalSource); err != nil {
		e.recordOutcome(p.Code, "failed_local_source")
		return e.fail(ctx, p, model.UndoLocalSource, err)
	}

	if err := e.checkpoint(ctx, p, model.UndoLocalSource); err != nil {
		return err
	}

	if p.LocalTarget != nil {
		if err := e.runPhase(ctx, p, "LocalTarget", p.LocalTarget); err != nil {
			e.recordOutcome(p.Code, "failed_local_target")
			return e.fail(ctx, p, model.UndoLocalTarget, err)
		}
		if err := e.checkpoint(ctx, p, model.UndoLocalTarget); err != nil {
			return err
		}
	}

	if err := e.runPhase(ctx, p, "GlobalPost", p.GlobalPost); err != nil {
		e.recordOutcome(p.Code, "failed_global_post")
		return e.fail(ctx, p, model.UndoLocalTarget, err)
	}

	if p.UpdateCache != nil {
		p.UpdateCache()
	}

	e.recordOutcome(p.Code, "success")
	return nil
}

func (e *Engine) runPhase(ctx context.Context, p Phases, name string, fn Phase) error {
	if fn == nil {
		return nil
	}
	start := time.Now()
	err := retry.Do(ctx, e.policy, fn)
	metrics.OperationPhaseDuration.WithLabelValues(p.Code.String(), name).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	// A phase that already raised a typed error (e.g. a GlobalPre
	// validation failure) keeps its own category and code; only an
	// untyped error from the underlying store gets classified here.
	if se, ok := shardmaperr.As(err); ok {
		return se.WithOperation(p.OperationID, name)
	}
	return shardmaperr.Wrap(err, shardmaperr.CategoryGeneral, shardmaperr.CodeStorageOperationFailure, "phase failed").
		WithOperation(p.OperationID, name)
}

// checkpoint is called between phases so cancellation is honored only at
// phase boundaries, per spec.md §5; a cancellation here runs the same Undo
// chain as a failure.
func (e *Engine) checkpoint(ctx context.Context, p Phases, undoFrom model.UndoPhase) error {
	if err := ctx.Err(); err == nil {
		return nil
	} else {
		return e.fail(ctx, p, undoFrom, shardmaperr.Wrap(err, shardmaperr.CategoryGeneral, shardmaperr.CodeCanceled, "canceled between phases"))
	}
}

// fail runs the Undo chain starting at undoFrom and returns cause
// unchanged; Undo failures are combined for logging only.
func (e *Engine) fail(ctx context.Context, p Phases, undoFrom model.UndoPhase, cause error) error {
	undoCtx := detachedUndoContext(ctx)

	var undoErr error
	if undoFrom >= model.UndoLocalTarget && p.UndoLocalTarget != nil {
		if err := retry.Do(undoCtx, e.policy, p.UndoLocalTarget); err != nil {
			undoErr = multierr.Append(undoErr, err)
		}
	}
	if undoFrom >= model.UndoLocalSource && p.UndoLocalSource != nil {
		if err := retry.Do(undoCtx, e.policy, p.UndoLocalSource); err != nil {
			undoErr = multierr.Append(undoErr, err)
		}
	}
	if p.UndoGlobalPost != nil {
		if err := retry.Do(undoCtx, e.policy, p.UndoGlobalPost); err != nil {
			undoErr = multierr.Append(undoErr, err)
		}
	}

	if undoErr != nil {
		e.logger.Error("undo chain failed; pending-log slot deferred to recovery",
			zap.String("operation_id", p.OperationID),
			zap.String("operation", p.Code.String()),
			zap.Error(cause),
			zap.NamedError("undo_error", undoErr),
		)
	}
	return cause
}

// detachedUndoContext strips a cancellation/deadline from ctx so the Undo
// chain — which must complete regardless of why the operation failed —
// isn't itself aborted by the same cancellation, while still carrying
// ctx's values.
func detachedUndoContext(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ parent context.Context }

func (detachedContext) Deadline() (time.Time, bool)   { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}          { return nil }
func (detachedContext) Err() error                     { return nil }
func (d detachedContext) Value(key interface{}) interface{} { return d.parent.Value(key) }

func (e *Engine) recordOutcome(code model.OperationCode, outcome string) {
	metrics.OperationsTotal.WithLabelValues(code.String(), outcome).Inc()
}
