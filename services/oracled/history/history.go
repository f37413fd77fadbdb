package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"lendoracle/core/events"
	"lendoracle/core/types"
	"lendoracle/observability"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// EventRecord is one persisted oracle event.
type EventRecord struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string            `gorm:"size:64;index" json:"type"`
	Oracle     string            `gorm:"size:32;index" json:"oracle,omitempty"`
	Asset      string            `gorm:"size:42;index" json:"asset,omitempty"`
	Attributes map[string]string `gorm:"serializer:json" json:"attributes"`
	CreatedAt  time.Time         `gorm:"index" json:"createdAt"`
}

// Open connects to the history database. postgres:// and postgresql:// DSNs
// use the Postgres driver, anything else is handed to SQLite.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("history dsn required")
	}
	var dialector gorm.Dialector
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate applies the history schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

type eventWithPayload interface {
	Event() *types.Event
}

// Recorder persists every emitted oracle event.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the wall clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(db *gorm.DB, opts ...Option) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("history database required")
	}
	r := &Recorder{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Emit implements events.Emitter. Persistence failures are logged; events
// without a typed payload are only counted.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	observability.Events().RecordEvent(events.Source(evt), evt.EventType(), r.now())
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	attrs := make(map[string]string, len(event.Attributes))
	for k, v := range event.Attributes {
		attrs[k] = v
	}
	record := EventRecord{
		ID:         id,
		Type:       event.Type,
		Oracle:     event.Attribute("oracle"),
		Asset:      strings.ToLower(event.Attribute("asset")),
		Attributes: attrs,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.db.Create(&record).Error; err != nil {
		r.logger.Error("persist oracle event", "type", event.Type, "asset", record.Asset, "error", err)
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Asset string
	Type  string
	Limit int
}

// List returns matching events, newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]EventRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("history not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := r.db.WithContext(ctx).Model(&EventRecord{})
	if asset := strings.TrimSpace(filter.Asset); asset != "" {
		query = query.Where("asset = ?", strings.ToLower(asset))
	}
	if typ := strings.TrimSpace(filter.Type); typ != "" {
		query = query.Where("type = ?", typ)
	}
	var records []EventRecord
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return records, nil
}
