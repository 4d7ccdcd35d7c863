package pgledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipledger_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipledger_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func createShipment(ctx context.Context, st *Storage, id, status string, at time.Time) error {
	return st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertShipment(ctx, &models.Shipment{TrackingID: id, CurrentStatus: status, UpdatedAt: at, CreatedAt: at}); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: id, Status: status, CreatedAt: at})
	})
}

func countRows(t *testing.T, st *Storage, id string) (shipments, events int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM shipments WHERE tracking_id = $1`, id).Scan(&shipments))
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM shipment_events WHERE tracking_id = $1`, id).Scan(&events))
	return shipments, events
}

func TestPGLedger_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	t0 := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, createShipment(ctx, st, "TRK1", "Pending", t0))

	sh, err := st.GetShipment(ctx, "TRK1")
	require.NoError(t, err)
	require.Equal(t, "Pending", sh.CurrentStatus)
	require.True(t, sh.UpdatedAt.Equal(t0))

	// дубликат — конфликт, исходные строки не тронуты
	err = createShipment(ctx, st, "TRK1", "Other", t0.Add(time.Second))
	require.ErrorIs(t, err, models.ErrConflict)
	n, e := countRows(t, st, "TRK1")
	require.Equal(t, 1, n)
	require.Equal(t, 1, e)

	t1 := t0.Add(time.Minute)
	err = st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateShipment(ctx, "TRK1", "Shipped", t1); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "TRK1", Status: "Shipped", Note: "left warehouse", CreatedAt: t1})
	})
	require.NoError(t, err)

	evs, err := st.ListShipmentEvents(ctx, "TRK1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "Shipped", evs[0].Status)
	require.Equal(t, "left warehouse", evs[0].Note)
	require.Equal(t, "Pending", evs[1].Status)
	require.Equal(t, "", evs[1].Note)

	sh, err = st.GetShipment(ctx, "TRK1")
	require.NoError(t, err)
	require.Equal(t, evs[0].Status, sh.CurrentStatus)
	require.True(t, sh.UpdatedAt.Equal(evs[0].CreatedAt))

	v, err := st.LoadShipmentView(ctx, "TRK1")
	require.NoError(t, err)
	require.Equal(t, "Shipped", v.CurrentStatus)
	require.True(t, v.UpdatedAt.Equal(t1))
	require.Len(t, v.Events, 2)
	require.Equal(t, v.CurrentStatus, v.Events[0].Status)
}

func TestPGLedger_MissingRows(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.GetShipment(ctx, "nope")
	require.ErrorIs(t, err, models.ErrNotFound)

	err = st.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateShipment(ctx, "nope", "x", time.Now())
	})
	require.ErrorIs(t, err, models.ErrNotFound)

	err = st.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "nope", Status: "x", CreatedAt: time.Now()})
	})
	require.ErrorIs(t, err, models.ErrNotFound)

	evs, err := st.ListShipmentEvents(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, evs)

	_, err = st.LoadShipmentView(ctx, "nope")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGLedger_FailureAfterFirstWriteRollsBack(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertShipment(ctx, &models.Shipment{TrackingID: "TRK9", CurrentStatus: "x", UpdatedAt: time.Now(), CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, e := countRows(t, st, "TRK9")
	require.Zero(t, n)
	require.Zero(t, e)
}

func TestPGLedger_ConcurrentCreate(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = createShipment(ctx, st, "TRK2", "Pending", time.Now())
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, conflicts)

	n, e := countRows(t, st, "TRK2")
	require.Equal(t, 1, n)
	require.Equal(t, 1, e)
}
