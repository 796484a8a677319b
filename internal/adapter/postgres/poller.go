package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// RowMapper turns one watermark-query result row into a base collection's
// (key, value) pair. A mapper returning ok=false skips the row (e.g. a
// soft-deleted record the adapter chooses to ignore rather than delete).
type RowMapper[K comparable, V any] func(row map[string]any) (key K, value V, ok bool, err error)

// Query describes how the adapter pulls changed rows. Query must accept
// exactly one parameter: the current watermark (typically an updated_at
// column), and must return rows ordered by that same column ascending so
// the adapter can safely advance its watermark to the last row seen.
type Query struct {
	SQL          string
	WatermarkCol string
	InitialMark  time.Time
}

// Adapter polls a PostgreSQL table for rows more recent than its watermark
// and feeds them into a base collection, additionally listening on a
// NOTIFY channel (lib/pq) so a trigger-driven writer can wake the poll
// early instead of waiting out the next interval.
type Adapter[K comparable, V any] struct {
	db       *sqlx.DB
	listener *pq.Listener
	channel  string
	query    Query
	target   *reactive.Collection[K, V]
	mapper   RowMapper[K, V]
	schedule string
	name     string
	log      *logger.Logger

	watermark time.Time
}

// Config configures an Adapter. Schedule is a robfig/cron/v3 expression
// (e.g. "@every 5s") governing how often the adapter polls independently of
// NOTIFY wakeups.
type Config struct {
	Name     string
	DSN      string
	Channel  string
	Schedule string
	Logger   *logger.Logger
}

// New opens db connections for both polling (sqlx) and LISTEN (lib/pq) and
// returns an Adapter bound to target.
func New[K comparable, V any](cfg Config, query Query, target *reactive.Collection[K, V], mapper RowMapper[K, V]) (*Adapter[K, V], error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: connect: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("adapter.postgres")
	}

	var listener *pq.Listener
	if cfg.Channel != "" {
		listener = pq.NewListener(cfg.DSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.WithField("error", err).Warn("postgres listener event")
			}
		})
		if err := listener.Listen(cfg.Channel); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres adapter: listen %q: %w", cfg.Channel, err)
		}
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 5s"
	}

	watermark := query.InitialMark
	if watermark.IsZero() {
		watermark = time.Unix(0, 0).UTC()
	}

	return &Adapter[K, V]{
		db:        db,
		listener:  listener,
		channel:   cfg.Channel,
		query:     query,
		target:    target,
		mapper:    mapper,
		schedule:  schedule,
		name:      cfg.Name,
		log:       log,
		watermark: watermark,
	}, nil
}

// Run blocks, polling on a robfig/cron schedule and on NOTIFY wakeups, until
// ctx is cancelled. Each poll applies new/changed rows via Collection.Set,
// participating in the coordinated update protocol exactly like any other
// writer (spec §6 "external data adapter contract").
func (a *Adapter[K, V]) Run(ctx context.Context) error {
	defer a.db.Close()
	if a.listener != nil {
		defer a.listener.Close()
	}

	if err := a.poll(ctx); err != nil {
		a.log.WithField("error", err).Warn("initial poll failed")
	}

	sched := cron.New()
	entryID, err := sched.AddFunc(a.schedule, func() {
		if err := a.poll(ctx); err != nil {
			a.log.WithField("error", err).Warn("scheduled poll failed")
		}
	})
	if err != nil {
		return fmt.Errorf("postgres adapter %q: schedule %q: %w", a.name, a.schedule, err)
	}
	sched.Start()
	defer func() {
		sched.Remove(entryID)
		<-sched.Stop().Done()
	}()

	var notifyCh <-chan *pq.Notification
	if a.listener != nil {
		notifyCh = a.listener.Notify
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-notifyCh:
			if n == nil {
				continue
			}
			if err := a.poll(ctx); err != nil {
				a.log.WithField("error", err).Warn("notify-triggered poll failed")
			}
		}
	}
}

func (a *Adapter[K, V]) poll(ctx context.Context) error {
	rows, err := a.db.QueryxContext(ctx, a.query.SQL, a.watermark)
	if err != nil {
		return fmt.Errorf("postgres adapter %q: query: %w", a.name, err)
	}
	defer rows.Close()

	var maxSeen time.Time
	var applied int
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return fmt.Errorf("postgres adapter %q: scan: %w", a.name, err)
		}

		key, value, ok, err := a.mapper(row)
		if err != nil {
			return fmt.Errorf("postgres adapter %q: map row: %w", a.name, err)
		}
		if !ok {
			continue
		}
		if err := a.target.Set(key, value); err != nil {
			return fmt.Errorf("postgres adapter %q: set: %w", a.name, err)
		}
		applied++

		if mark, ok := row[a.query.WatermarkCol].(time.Time); ok && mark.After(maxSeen) {
			maxSeen = mark
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres adapter %q: rows: %w", a.name, err)
	}

	if !maxSeen.IsZero() {
		a.watermark = maxSeen
	}
	if applied > 0 {
		a.log.WithField("applied", applied).WithField("adapter", a.name).Debug("applied rows from watermark poll")
	}
	return nil
}
