package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	errx "github.com/chative-support/server/internal/core/error"
	logx "github.com/chative-support/server/pkg/logger"
)

const meterName = "github.com/chative-support/server/internal/session"

var (
	ErrSessionLimit   = errors.New("maximum number of active sessions reached")
	ErrInvalidSession = errors.New("session expired or invalid")
	ErrMissingUser    = errors.New("missing user identifier")
)

type Config struct {
	TTL       time.Duration `envconfig:"SESSION_TTL" default:"300s"`
	MaxActive int           `envconfig:"SESSION_MAX_ACTIVE" default:"3"`
}

type Session struct {
	SessionID         string    `gorm:"column:session_id;primaryKey;size:36"`
	UserIdentifier    string    `gorm:"column:user_identifier;size:255;not null;index"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;index"`
	LastSeen          time.Time `gorm:"column:last_seen;not null"`
	ConversationCount int       `gorm:"column:conversation_count;not null;default:0"`
}

func (Session) TableName() string { return "user_sessions" }

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMeter records the chat-length histogram on meter instead of the global
// meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(s *Store) { s.meter = meter }
}

// Store keeps login sessions in the relational store. A session lives for
// TTL from its creation; expired rows are purged lazily whenever a session is
// created or validated.
type Store struct {
	db    *gorm.DB
	cfg   Config
	now   func() time.Time
	meter metric.Meter

	chatLength metric.Int64Histogram
}

func NewStore(db *gorm.DB, cfg Config, opts ...Option) (*Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	s := &Store{db: db, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter(meterName)
	}

	h, err := s.meter.Int64Histogram(
		"chatbot.session.chat_length",
		metric.WithDescription("Number of chat turns in a session when it ends"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat length histogram: %w", err)
	}
	s.chatLength = h
	return s, nil
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&Session{}); err != nil {
		return errx.WrapDB(err)
	}
	return nil
}

func (s *Store) cutoff() time.Time {
	return s.now().UTC().Add(-s.cfg.TTL)
}

// Create opens a new session for identifier. It fails with ErrSessionLimit
// when the identifier already holds MaxActive live sessions.
//
// The count and the insert are not atomic: two concurrent logins for the same
// identifier can both pass the check and exceed the limit by one.
func (s *Store) Create(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrMissingUser
	}

	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.deleteWhere(ctx, tx, "expired",
			"user_identifier = ? AND created_at < ?", identifier, s.cutoff()); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&Session{}).Where("user_identifier = ?", identifier).Count(&active).Error; err != nil {
			return errx.WrapDB(err)
		}
		if active >= int64(s.cfg.MaxActive) {
			return fmt.Errorf("%w: %d of %d in use, close an existing session", ErrSessionLimit, active, s.cfg.MaxActive)
		}

		now := s.now().UTC()
		sess := Session{
			SessionID:      uuid.NewString(),
			UserIdentifier: identifier,
			CreatedAt:      now,
			LastSeen:       now,
		}
		if err := tx.Create(&sess).Error; err != nil {
			return errx.WrapDB(err)
		}
		id = sess.SessionID
		return nil
	})
	if err != nil {
		return "", err
	}

	logx.Info().Str("user", identifier).Str("session_id", id).Msg("Session created")
	return id, nil
}

// Validate purges expired sessions, then looks up id and refreshes its
// last_seen time.
func (s *Store) Validate(ctx context.Context, id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidSession
	}

	var sess Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.deleteWhere(ctx, tx, "expired", "created_at < ?", s.cutoff()); err != nil {
			return err
		}
		if err := tx.First(&sess, "session_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidSession
			}
			return errx.WrapDB(err)
		}
		sess.LastSeen = s.now().UTC()
		if err := tx.Model(&sess).Update("last_seen", sess.LastSeen).Error; err != nil {
			return errx.WrapDB(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Touch counts one more chat turn against the session.
func (s *Store) Touch(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", id).
		UpdateColumn("conversation_count", gorm.Expr("conversation_count + ?", 1))
	if res.Error != nil {
		return errx.WrapDB(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidSession
	}
	return nil
}

// Delete ends a single session (logout).
func (s *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidSession
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.deleteWhere(ctx, tx, "logout", "session_id = ?", id)
		return err
	})
}

// DeleteAll ends every session of identifier and reports how many were closed.
func (s *Store) DeleteAll(ctx context.Context, identifier string) (int, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return 0, ErrMissingUser
	}
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = s.deleteWhere(ctx, tx, "close_all", "user_identifier = ?", identifier)
		return err
	})
	if err != nil {
		return 0, err
	}
	logx.Info().Str("user", identifier).Int("closed", n).Msg("Closed all sessions")
	return n, nil
}

// deleteWhere records the chat length of every matched session before
// deleting it.
func (s *Store) deleteWhere(ctx context.Context, tx *gorm.DB, reason, query string, args ...any) (int, error) {
	var doomed []Session
	if err := tx.Where(query, args...).Find(&doomed).Error; err != nil {
		return 0, errx.WrapDB(err)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	ids := make([]string, len(doomed))
	for i, d := range doomed {
		ids[i] = d.SessionID
		s.chatLength.Record(ctx, int64(d.ConversationCount),
			metric.WithAttributes(attribute.String("reason", reason)))
	}
	if err := tx.Where("session_id IN ?", ids).Delete(&Session{}).Error; err != nil {
		return 0, errx.WrapDB(err)
	}
	logx.Debug().Str("reason", reason).Int("sessions", len(doomed)).Msg("Deleted sessions")
	return len(doomed), nil
}
