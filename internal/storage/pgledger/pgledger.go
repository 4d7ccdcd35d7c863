package pgledger

import (
	"context"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

// querier закрывает и пул, и pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ storage.Store = (*Storage)(nil)

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// InTx runs fn inside one read-committed transaction. Any error from fn
// rolls back all writes made through the passed Tx.
func (s *Storage) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// LoadShipmentView reads the shipment row and its events inside one
// read-only REPEATABLE READ transaction: a concurrent update is either fully
// visible or not visible at all.
func (s *Storage) LoadShipmentView(ctx context.Context, trackingID string) (*models.ShipmentView, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, errors.Wrap(err, "begin snapshot tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := getShipment(ctx, tx, trackingID)
	if err != nil {
		return nil, err
	}
	evs, err := listShipmentEvents(ctx, tx, trackingID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit snapshot tx")
	}

	return &models.ShipmentView{
		TrackingID:    sh.TrackingID,
		CurrentStatus: sh.CurrentStatus,
		UpdatedAt:     sh.UpdatedAt,
		Events:        evs,
	}, nil
}

type pgTx struct {
	tx pgx.Tx
}
