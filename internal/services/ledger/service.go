package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/shipledger/internal/broker/messages"
	"github.com/BearBump/shipledger/internal/cache"
	"github.com/BearBump/shipledger/internal/models"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service owns the Shipment/Event model. Shipment rows are the "latest"
// projection of the event log: every write changes both inside one store
// transaction and uses a single timestamp for the pair.
type Service struct {
	store   storage.Store
	cache   cache.BytesCache
	viewTTL time.Duration

	publisher Publisher
	topic     string

	baseURL string
	now     func() time.Time
	log     *zap.Logger
}

func New(store storage.Store, c cache.BytesCache, viewTTL time.Duration) *Service {
	return &Service{
		store:   store,
		cache:   c,
		viewTTL: viewTTL,
		now:     time.Now,
		log:     zap.NewNop(),
	}
}

func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.publisher = p
	s.topic = topic
	return s
}

func (s *Service) WithBaseURL(baseURL string) *Service {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Lookup(ctx context.Context, trackingID string) (*models.ShipmentView, error) {
	if trackingID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "trackingId is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, viewKey(trackingID))
		if err != nil {
			s.log.Warn("lookup cache get", zap.String("tracking_id", trackingID), zap.Error(err))
		}
		if err == nil && ok {
			var v models.ShipmentView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	v, err := s.loadView(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	s.storeView(ctx, v)
	return v, nil
}

func (s *Service) Create(ctx context.Context, in models.ShipmentWrite) (*models.CreateResult, error) {
	if err := validateWrite(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sh := &models.Shipment{
		TrackingID:    in.TrackingID,
		CurrentStatus: in.Status,
		UpdatedAt:     now,
		CreatedAt:     now,
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertShipment(ctx, sh); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{
			TrackingID: in.TrackingID,
			Status:     in.Status,
			Note:       in.Note,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, messages.KindCreated, in, now)
	return &models.CreateResult{Shipment: sh, TrackingLink: s.TrackingLink(in.TrackingID)}, nil
}

func (s *Service) Update(ctx context.Context, in models.ShipmentWrite) error {
	if err := validateWrite(in); err != nil {
		return err
	}

	now := s.now().UTC()
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		// UPDATE затрагивает 0 строк => ErrNotFound, событие не пишется.
		if err := tx.UpdateShipment(ctx, in.TrackingID, in.Status, now); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &models.ShipmentEvent{
			TrackingID: in.TrackingID,
			Status:     in.Status,
			Note:       in.Note,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return err
	}

	s.afterWrite(ctx, messages.KindUpdated, in, now)
	return nil
}

// Warm reloads a shipment view from the store into the cache.
func (s *Service) Warm(ctx context.Context, trackingID string) error {
	if !s.cacheEnabled() {
		return nil
	}
	v, err := s.loadView(ctx, trackingID)
	if err != nil {
		return err
	}
	return s.setView(ctx, v)
}

// TrackingLink is the customer-facing page for a shipment, or "" when no base URL is configured.
func (s *Service) TrackingLink(trackingID string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/track.html?tid=" + url.QueryEscape(trackingID)
}

func (s *Service) loadView(ctx context.Context, trackingID string) (*models.ShipmentView, error) {
	return s.store.LoadShipmentView(ctx, trackingID)
}

func (s *Service) storeView(ctx context.Context, v *models.ShipmentView) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.setView(ctx, v); err != nil {
		s.log.Warn("lookup cache set", zap.String("tracking_id", v.TrackingID), zap.Error(err))
	}
}

// setView caches v and then re-reads the shipment row. A write that committed
// after v was loaded may already have run its invalidation, so in that case
// the freshly cached copy is dropped here instead.
func (s *Service) setView(ctx context.Context, v *models.ShipmentView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal view")
	}
	key := viewKey(v.TrackingID)
	if err := s.cache.Set(ctx, key, b, s.viewTTL); err != nil {
		return err
	}

	sh, err := s.store.GetShipment(ctx, v.TrackingID)
	if err == nil && sh.CurrentStatus == v.CurrentStatus && sh.UpdatedAt.Equal(v.UpdatedAt) {
		return nil
	}
	// не смогли подтвердить актуальность: лучше промах кэша, чем старый статус
	if derr := s.cache.Delete(ctx, key); derr != nil {
		return errors.Wrap(derr, "drop stale view")
	}
	return nil
}

// afterWrite runs once the transaction is committed; its failures are only logged.
func (s *Service) afterWrite(ctx context.Context, kind string, in models.ShipmentWrite, at time.Time) {
	if s.cacheEnabled() {
		if err := s.cache.Delete(ctx, viewKey(in.TrackingID)); err != nil {
			s.log.Warn("lookup cache invalidate", zap.String("tracking_id", in.TrackingID), zap.Error(err))
		}
	}

	if s.publisher == nil || s.topic == "" {
		return
	}
	msg := messages.ShipmentUpdated{
		EventID:    uuid.NewString(),
		TrackingID: in.TrackingID,
		Kind:       kind,
		Status:     in.Status,
		Note:       in.Note,
		OccurredAt: at,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.topic, []byte(in.TrackingID), b); err != nil {
		s.log.Error("publish shipment update",
			zap.String("tracking_id", in.TrackingID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.viewTTL > 0
}

func validateWrite(in models.ShipmentWrite) error {
	if in.TrackingID == "" {
		return errors.Wrap(models.ErrInvalidInput, "trackingId is required")
	}
	if in.Status == "" {
		return errors.Wrap(models.ErrInvalidInput, "status is required")
	}
	return nil
}

func viewKey(trackingID string) string {
	return fmt.Sprintf("shipment:%s:view", trackingID)
}
