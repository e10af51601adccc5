// Package storage records decision cycles and backtest runs in sqlite off the
// hot path.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexFund/internal/graph"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
)

type recordKind int

const (
	recordStart recordKind = iota + 1
	recordCycle
	recordEquity
	recordFinish
)

type recordEvent struct {
	kind     recordKind
	runID    string
	run      sqlite.RunRecord
	decision *graph.Decision
	date     time.Time
	value    decimal.Decimal
	result   *models.BacktestResult
	flushed  chan error
}

// RunRecorder queues writes and applies them on a single goroutine, so a
// slow disk never stalls a cycle. FinishRun waits for the queue to drain.
type RunRecorder struct {
	store  *sqlite.Store
	logger zerolog.Logger

	events chan recordEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunRecorder(store *sqlite.Store, logger zerolog.Logger) (*RunRecorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	r := &RunRecorder{
		store:  store,
		logger: logger,
		events: make(chan recordEvent, 512),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *RunRecorder) loop() {
	defer r.wg.Done()
	ctx := context.Background()
	for ev := range r.events {
		var err error
		switch ev.kind {
		case recordStart:
			err = r.store.CreateRun(ctx, ev.run)
		case recordCycle:
			err = r.handleCycle(ctx, ev.runID, ev.decision)
		case recordEquity:
			err = r.store.UpsertEquity(ctx, ev.runID, ev.date, ev.value)
		case recordFinish:
			err = r.handleFinish(ctx, ev.runID, ev.result)
		}
		if err != nil {
			r.logger.Error().Err(err).Str("run_id", ev.runID).Msg("record run event")
		}
		if ev.flushed != nil {
			ev.flushed <- err
		}
	}
}

func (r *RunRecorder) enqueue(ev recordEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("recorder is closed")
	}
	r.events <- ev
	return nil
}

func (r *RunRecorder) StartRun(_ context.Context, runID, kind, name string, config any) error {
	cfg, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return r.enqueue(recordEvent{kind: recordStart, runID: runID, run: sqlite.RunRecord{
		ID:         runID,
		Kind:       kind,
		Name:       name,
		Status:     "running",
		ConfigJSON: string(cfg),
	}})
}

func (r *RunRecorder) RecordCycle(_ context.Context, runID string, d *graph.Decision) error {
	if d == nil {
		return nil
	}
	return r.enqueue(recordEvent{kind: recordCycle, runID: runID, decision: d})
}

func (r *RunRecorder) RecordEquity(_ context.Context, runID string, date time.Time, value decimal.Decimal) error {
	return r.enqueue(recordEvent{kind: recordEquity, runID: runID, date: date, value: value})
}

// FinishRun stores the final status and metrics and returns once every
// earlier event of the recorder has been written.
func (r *RunRecorder) FinishRun(ctx context.Context, runID string, result *models.BacktestResult) error {
	flushed := make(chan error, 1)
	if err := r.enqueue(recordEvent{kind: recordFinish, runID: runID, result: result, flushed: flushed}); err != nil {
		return err
	}
	select {
	case err := <-flushed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RunRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *RunRecorder) handleCycle(ctx context.Context, runID string, d *graph.Decision) error {
	if d.Aggregate != nil {
		signals, err := json.Marshal(d.Signals)
		if err != nil {
			return err
		}
		err = r.store.UpsertDecision(ctx, sqlite.DecisionRecord{
			RunID:       runID,
			Ticker:      d.Ticker,
			Date:        d.Date,
			Stance:      string(d.Aggregate.NetStance),
			Strength:    d.Aggregate.Strength,
			SignalsJSON: string(signals),
			Failures:    len(d.Failures),
		})
		if err != nil {
			return err
		}
	}
	return r.store.AppendOrders(ctx, runID, d.Orders)
}

func (r *RunRecorder) handleFinish(ctx context.Context, runID string, result *models.BacktestResult) error {
	if result == nil {
		return r.store.FinishRun(ctx, runID, "completed", "", "")
	}
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return err
	}
	return r.store.FinishRun(ctx, runID, result.Status, result.Error, string(metrics))
}
