package memledger

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	st := New()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	err := st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "Pending", UpdatedAt: t0, CreatedAt: t0}); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "A", Status: "Pending", CreatedAt: t0})
	})
	require.NoError(t, err)

	err = st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateShipment(ctx, "A", "Shipped", t0.Add(time.Minute)); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "A", Status: "Shipped", Note: "n", CreatedAt: t0.Add(time.Minute)})
	})
	require.NoError(t, err)

	sh, err := st.GetShipment(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "Shipped", sh.CurrentStatus)
	require.True(t, sh.UpdatedAt.Equal(t0.Add(time.Minute)))

	evs, err := st.ListShipmentEvents(ctx, "A")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "Shipped", evs[0].Status)
	require.Equal(t, "Pending", evs[1].Status)
	require.Greater(t, evs[0].ID, evs[1].ID)

	v, err := st.LoadShipmentView(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "Shipped", v.CurrentStatus)
	require.Len(t, v.Events, 2)
	require.Equal(t, v.CurrentStatus, v.Events[0].Status)
	require.True(t, v.UpdatedAt.Equal(v.Events[0].CreatedAt))

	_, err = st.LoadShipmentView(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_SameTimestampOrderedByInsertion(t *testing.T) {
	ctx := context.Background()
	st := New()
	at := time.Now().UTC()

	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "1", UpdatedAt: at}))
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "A", Status: "1", CreatedAt: at})
	}))
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "A", Status: "2", CreatedAt: at})
	}))

	evs, err := st.ListShipmentEvents(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "2", evs[0].Status)
	require.Equal(t, "1", evs[1].Status)
}

func TestStore_ErrorsRollBack(t *testing.T) {
	ctx := context.Background()
	st := New()

	err := st.InTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "x"}))
		return tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "y"})
	})
	require.ErrorIs(t, err, models.ErrConflict)

	n, e := st.Counts()
	require.Zero(t, n)
	require.Zero(t, e)

	_, err = st.GetShipment(ctx, "A")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_FailOnWrite(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.FailOnWrite(2)

	err := st.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "x"}); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "A", Status: "x"})
	})
	require.ErrorIs(t, err, ErrInjectedFailure)

	n, e := st.Counts()
	require.Zero(t, n)
	require.Zero(t, e)

	// одноразовый сбой: следующая транзакция проходит
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertShipment(ctx, &models.Shipment{TrackingID: "A", CurrentStatus: "x"})
	}))
}

func TestStore_UpdateAndEventForUnknownShipment(t *testing.T) {
	ctx := context.Background()
	st := New()

	err := st.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateShipment(ctx, "missing", "x", time.Now())
	})
	require.ErrorIs(t, err, models.ErrNotFound)

	err = st.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertEvent(ctx, &models.ShipmentEvent{TrackingID: "missing", Status: "x"})
	})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().InTx(ctx, func(tx storage.Tx) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
