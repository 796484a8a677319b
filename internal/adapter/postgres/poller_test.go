package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/pkg/logger"
)

func TestPollAppliesRowsAndAdvancesWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := reactive.NewEngine(nil)
	target, err := reactive.NewBase[string, string](e, "test.external_events")
	require.NoError(t, err)

	initial := time.Unix(0, 0).UTC()
	second := initial.Add(time.Hour)
	rows := sqlmock.NewRows([]string{"event_key", "event_value", "updated_at"}).
		AddRow("k1", "v1", initial.Add(time.Minute)).
		AddRow("k2", "v2", second)

	mock.ExpectQuery(`SELECT event_key, event_value, updated_at FROM reactive_streams_external_events`).
		WithArgs(initial).
		WillReturnRows(rows)

	a := &Adapter[string, string]{
		db:        sqlx.NewDb(db, "postgres"),
		query:     externalEventsQuery,
		target:    target,
		mapper:    mapExternalEvent,
		name:      "test",
		log:       logger.NewDefault("test"),
		watermark: initial,
	}

	require.NoError(t, a.poll(context.Background()))

	v1, ok := target.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", v1)
	v2, ok := target.Get("k2")
	require.True(t, ok)
	require.Equal(t, "v2", v2)
	require.Equal(t, second, a.watermark)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollSkipsRowsWithoutKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := reactive.NewEngine(nil)
	target, err := reactive.NewBase[string, string](e, "test.external_events_skip")
	require.NoError(t, err)

	initial := time.Unix(0, 0).UTC()
	rows := sqlmock.NewRows([]string{"event_key", "event_value", "updated_at"}).
		AddRow("", "orphan", initial.Add(time.Minute))

	mock.ExpectQuery(`SELECT event_key, event_value, updated_at FROM reactive_streams_external_events`).
		WithArgs(initial).
		WillReturnRows(rows)

	a := &Adapter[string, string]{
		db:        sqlx.NewDb(db, "postgres"),
		query:     externalEventsQuery,
		target:    target,
		mapper:    mapExternalEvent,
		name:      "test",
		log:       logger.NewDefault("test"),
		watermark: initial,
	}

	require.NoError(t, a.poll(context.Background()))
	require.Equal(t, 0, len(target.GetAll()))
	require.NoError(t, mock.ExpectationsWereMet())
}
