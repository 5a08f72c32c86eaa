package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/store"
	"fieldsync-agent/pkg/uid"

	"golang.org/x/sync/errgroup"
)

// ErrDrainInProgress is returned when DrainAll is called while another
// drain is still running.
var ErrDrainInProgress = errors.New("drain already in progress")

// OnlineChecker reports the connectivity decision.
type OnlineChecker interface {
	IsOnline() bool
}

// Deliverer sends one queued item and classifies the response.
type Deliverer interface {
	Deliver(ctx context.Context, class model.EventClass, item model.PendingItem) model.Outcome
}

// Config tunes batching.
type Config struct {
	BatchSize int
	Now       func() time.Time
}

// Engine drains the pending queues against the backend.
type Engine struct {
	queue     *queue.Manager
	deliverer Deliverer
	online    OnlineChecker
	store     store.Store
	cfg       Config

	running atomic.Bool
}

// New creates a sync engine.
func New(q *queue.Manager, d Deliverer, online OnlineChecker, s store.Store, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{queue: q, deliverer: d, online: online, store: s, cfg: cfg}
}

// Running reports whether a drain is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// DrainAll sends every eligible item of every class.
// Classes drain concurrently; batches within a class run oldest first,
// and each batch is reconciled before the next one starts. Cancelling ctx
// stops the drain between batches only: a batch already sent always runs
// to completion and its outcomes are recorded.
func (e *Engine) DrainAll(ctx context.Context) (*model.SyncResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer e.running.Store(false)

	result := &model.SyncResult{
		StartedAt: e.cfg.Now(),
		Classes:   make(map[model.EventClass]model.ClassResult),
	}

	if !e.online.IsOnline() {
		result.Offline = true
		result.Message = result.Summary()
		return result, nil
	}

	classResults := make([]model.ClassResult, len(model.EventClasses))
	// A failing class must not cancel deliveries in flight for the others.
	var g errgroup.Group
	for i, class := range model.EventClasses {
		g.Go(func() error {
			r, err := e.drainClass(ctx, class)
			classResults[i] = r
			if err != nil {
				return fmt.Errorf("drain %s: %w", class, err)
			}
			return nil
		})
	}
	err := g.Wait()

	for i, class := range model.EventClasses {
		result.Add(class, classResults[i])
	}
	result.Duration = e.cfg.Now().Sub(result.StartedAt)
	result.Message = result.Summary()

	if err != nil {
		log.Printf("[SyncEngine] Drain failed%s: %v", uid.LogTag(ctx), err)
		return result, err
	}

	if err := store.SetJSON(context.WithoutCancel(ctx), e.store, store.KeyLastSync, e.cfg.Now().UTC()); err != nil {
		log.Printf("[SyncEngine] Failed to record last sync: %v", err)
	}

	if result.TotalSynced+result.TotalFailed+result.TotalRejected > 0 {
		log.Printf("[SyncEngine] Drain done%s - synced:%d failed:%d rejected:%d on_hold:%d",
			uid.LogTag(ctx), result.TotalSynced, result.TotalFailed, result.TotalRejected, result.TotalOnHold)
	}
	return result, nil
}

func (e *Engine) drainClass(ctx context.Context, class model.EventClass) (model.ClassResult, error) {
	var res model.ClassResult

	ready, onHold, err := e.queue.ListRetryable(ctx, class)
	if err != nil {
		return res, err
	}
	res.OnHold = len(onHold)

	for start := 0; start < len(ready); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := min(start+e.cfg.BatchSize, len(ready))
		bctx := context.WithoutCancel(ctx)
		outcomes := e.deliverBatch(bctx, class, ready[start:end])

		if err := e.queue.Reconcile(bctx, class, outcomes); err != nil {
			return res, err
		}

		for _, o := range outcomes {
			switch o.Status {
			case model.Delivered:
				res.Synced++
			case model.RejectedPermanently:
				res.Rejected++
				log.Printf("[SyncEngine] %s item %s rejected%s: %s", class, o.OfflineID, uid.LogTag(ctx), o.Error)
			default:
				res.Failed++
			}
		}
	}

	return res, nil
}

// deliverBatch sends one batch concurrently and waits for every response.
func (e *Engine) deliverBatch(ctx context.Context, class model.EventClass, batch []model.PendingItem) []model.Outcome {
	outcomes := make([]model.Outcome, len(batch))

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchSize)
	for i, item := range batch {
		g.Go(func() error {
			outcomes[i] = e.deliverer.Deliver(ctx, class, item)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// LastSync returns the time of the last completed drain.
func (e *Engine) LastSync(ctx context.Context) (time.Time, bool, error) {
	var at time.Time
	found, err := store.GetJSON(ctx, e.store, store.KeyLastSync, &at)
	return at, found, err
}
