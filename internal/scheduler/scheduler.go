// Package scheduler drives periodic polling of all active queries: fetch,
// diff, persist, notify, in that order, with bounded parallelism.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pricewatch_bot/internal/diff"
	"pricewatch_bot/internal/metrics"
	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/notify"
	"pricewatch_bot/internal/source"
	"pricewatch_bot/internal/storage"
)

// ErrInFlight is returned when a poll for the query is already running.
var ErrInFlight = errors.New("query poll already in progress")

// Scheduler periodically polls due queries and forwards detected changes to
// the notification dispatcher.
type Scheduler struct {
	store      storage.Storage
	source     source.Source
	dispatcher *notify.Dispatcher
	log        *slog.Logger
	interval   time.Duration
	workers    int

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New creates a Scheduler that starts a cycle every interval and polls at
// most workers queries concurrently within a cycle.
func New(store storage.Storage, src source.Source, dispatcher *notify.Dispatcher, log *slog.Logger, interval time.Duration, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		store:      store,
		source:     src,
		dispatcher: dispatcher,
		log:        log,
		interval:   interval,
		workers:    workers,
		inflight:   make(map[int64]struct{}),
	}
}

// Run starts the scheduler, blocking until ctx is cancelled. The first cycle
// runs immediately; later cycles fire on the interval and a cycle that
// overruns it is skipped rather than overlapped.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { s.runCycle(ctx) }); err != nil {
		s.log.Error("register poll schedule", "interval", s.interval, "error", err)
		return
	}
	c.Start()
	s.log.Info("scheduler started", "interval", s.interval.String(), "workers", s.workers)

	<-ctx.Done()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		s.log.Warn("cycle did not finish within shutdown timeout")
	}
	s.log.Info("scheduler stopped")
}

// RunQuery polls a single query immediately, outside the regular cycle.
// Used by the presentation layer's force-check command.
func (s *Scheduler) RunQuery(ctx context.Context, queryID int64) error {
	q, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return err
	}
	return s.processQuery(ctx, *q)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	queries, err := s.store.ListDueQueries(ctx, start)
	if err != nil {
		s.log.Error("list due queries", "error", err)
		return
	}
	if len(queries) == 0 {
		return
	}
	s.log.Debug("cycle started", "due", len(queries))

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(q model.Query) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.processQuery(ctx, q); err != nil && !errors.Is(err, ErrInFlight) {
				s.log.Error("poll query", "query_id", q.ID, "error", err)
			}
		}(q)
	}
	wg.Wait()

	elapsed := time.Since(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	s.log.Info("cycle finished", "queries", len(queries), "duration", elapsed.String())
}

// processQuery runs the fetch, diff, persist, notify pipeline for one query.
// At most one pipeline per query id runs at any time; a second attempt
// returns ErrInFlight. Persist happens before notify, so a crash in between
// can only lose a notification, never duplicate one.
func (s *Scheduler) processQuery(ctx context.Context, q model.Query) error {
	if !s.begin(q.ID) {
		return ErrInFlight
	}
	defer s.end(q.ID)

	started := time.Now()
	metrics.QueriesPolledTotal.Inc()

	fetched, err := s.source.Fetch(ctx, q.SearchParams)
	if err != nil {
		metrics.FetchFailuresTotal.WithLabelValues(strconv.FormatInt(q.ID, 10)).Inc()
		s.log.Warn("fetch failed", "query_id", q.ID, "error", err)
		s.logExecution(ctx, q.ID, started, false, 0, nil, err)
		return nil
	}
	metrics.ItemsFetchedTotal.Add(float64(len(fetched)))

	old, err := s.store.GetSnapshot(ctx, q.ID)
	if err != nil {
		s.logExecution(ctx, q.ID, started, false, len(fetched), nil, err)
		return err
	}

	firstRun := q.LastRunAt == nil
	events := diff.Diff(q.ID, old, fetched)

	if err := s.store.ReplaceSnapshot(ctx, q.ID, fetched); err != nil {
		s.logExecution(ctx, q.ID, started, false, len(fetched), nil, err)
		return err
	}
	if err := s.store.SetQueryLastRun(ctx, q.ID, started); err != nil {
		s.logExecution(ctx, q.ID, started, false, len(fetched), nil, err)
		return err
	}

	if firstRun {
		// Initial population: seed the snapshot silently and send a single
		// summary instead of one notification per item.
		if _, err := s.dispatcher.DispatchInitial(ctx, q.ID, len(fetched)); err != nil {
			s.log.Error("dispatch initial summary", "query_id", q.ID, "error", err)
		}
		s.logExecution(ctx, q.ID, started, true, len(fetched), nil, nil)
		return nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case model.EventNewItem:
			metrics.NewItemsTotal.Inc()
		case model.EventPriceChanged:
			metrics.PriceChangesTotal.Inc()
			if err := s.store.RecordPriceChange(ctx, q.ID, ev.Item.Code, ev.OldPrice, ev.NewPrice); err != nil {
				s.log.Error("record price change", "query_id", q.ID, "code", ev.Item.Code, "error", err)
			}
		}
		if _, err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.log.Error("dispatch event", "query_id", q.ID, "code", ev.Item.Code, "error", err)
		}
	}

	s.logExecution(ctx, q.ID, started, true, len(fetched), events, nil)
	return nil
}

func (s *Scheduler) begin(queryID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[queryID]; busy {
		return false
	}
	s.inflight[queryID] = struct{}{}
	return true
}

func (s *Scheduler) end(queryID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, queryID)
}

func (s *Scheduler) logExecution(ctx context.Context, queryID int64, started time.Time, success bool, total int, events []model.ChangeEvent, cause error) {
	e := &model.Execution{
		QueryID:    queryID,
		Success:    success,
		TotalItems: total,
		DurationMS: time.Since(started).Milliseconds(),
	}
	for _, ev := range events {
		switch ev.Kind {
		case model.EventNewItem:
			e.NewItems++
		case model.EventPriceChanged:
			e.PriceChanges++
		}
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := s.store.LogExecution(ctx, e); err != nil {
		s.log.Error("log execution", "query_id", queryID, "error", err)
	}
}
