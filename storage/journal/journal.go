// Package journal persists the lifecycle notifications emitted by the money
// market manager and fans them out to live subscribers.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"walletlend/core/events"
	"walletlend/core/types"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1_000
)

var ErrUnknownDriver = errors.New("journal: unknown driver")

// Record is the persisted form of one notification.
type Record struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Wallet     string    `gorm:"size:42;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Record) TableName() string { return "moneymarket_events" }

// Entry is the decoded view of a record served to readers.
type Entry struct {
	Seq        int64             `json:"seq"`
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	Wallet     string            `json:"wallet,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Query filters List. Zero fields match everything.
type Query struct {
	Wallet   string
	Type     string
	AfterSeq int64
	Limit    int
}

// Journal is an events.Emitter backed by a gorm database.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu     sync.Mutex
	subs   map[int]chan Entry
	nextID int
}

var _ events.Emitter = (*Journal)(nil)

// Open connects to a database and migrates the journal schema. driver is
// "sqlite" or "postgres".
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an open database.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{
		db:     db,
		logger: log.With("component", "journal"),
		nowFn:  func() time.Time { return time.Now().UTC() },
		subs:   make(map[int]chan Entry),
	}, nil
}

// SetNowFunc overrides the timestamp source. Passing nil restores the wall
// clock.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		j.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	j.nowFn = now
}

// Emit stores the event and delivers it to subscribers. Storage failures are
// logged; the event has already taken effect and is not retried.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	entry, err := j.Append(context.Background(), evt)
	if err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
		return
	}
	j.broadcast(entry)
}

// Append stores one event and returns its entry.
func (j *Journal) Append(ctx context.Context, evt events.Event) (Entry, error) {
	attrs := attributesOf(evt)
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Entry{}, err
	}
	rec := Record{
		ID:         uuid.New(),
		Type:       evt.EventType(),
		Wallet:     attrs["wallet"],
		Attributes: string(encoded),
		CreatedAt:  j.nowFn(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	return Entry{Seq: rec.Seq, ID: rec.ID, Type: rec.Type, Wallet: rec.Wallet, Attributes: attrs, CreatedAt: rec.CreatedAt}, nil
}

// List returns entries in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tx := j.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", q.AfterSeq)
	if wallet := strings.TrimSpace(q.Wallet); wallet != "" {
		tx = tx.Where("wallet = ?", wallet)
	}
	if kind := strings.TrimSpace(q.Type); kind != "" {
		tx = tx.Where("type = ?", kind)
	}
	var records []Record
	if err := tx.Order("seq ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		attrs := map[string]string{}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("journal: decode %s: %w", rec.ID, err)
			}
		}
		out = append(out, Entry{Seq: rec.Seq, ID: rec.ID, Type: rec.Type, Wallet: rec.Wallet, Attributes: attrs, CreatedAt: rec.CreatedAt})
	}
	return out, nil
}

// Subscribe registers a live listener. Entries that do not fit in the buffer
// are dropped for that listener. The returned function unsubscribes.
func (j *Journal) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			delete(j.subs, id)
			j.mu.Unlock()
			close(ch)
		})
	}
}

func (j *Journal) broadcast(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, ch := range j.subs {
		select {
		case ch <- entry:
		default:
			j.logger.Warn("journal subscriber lagging", "subscriber", id, "seq", entry.Seq)
		}
	}
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func attributesOf(evt events.Event) map[string]string {
	out := map[string]string{}
	if typed, ok := evt.(*types.Event); ok && typed != nil {
		for k, v := range typed.Attributes {
			out[k] = v
		}
	}
	return out
}
