package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gorm.io/gorm"

	"github.com/chative-support/server/pkg/database"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store  *Store
	db     *gorm.DB
	clock  *fakeClock
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, DSN: filepath.Join(t.TempDir(), "sessions.db"), MaxOpenConns: 1}
	db, err := cfg.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, Migrate(context.Background(), db))

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	clock := &fakeClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	store, err := NewStore(db, Config{TTL: 5 * time.Minute, MaxActive: 3},
		WithClock(clock.Now),
		WithMeter(provider.Meter("test")),
	)
	require.NoError(t, err)
	return &fixture{store: store, db: db, clock: clock, reader: reader}
}

// chatLengths returns the recorded histogram count and sum.
func (f *fixture) chatLengths(t *testing.T) (uint64, int64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "chatbot.session.chat_length" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[int64])
			require.True(t, ok)
			var count uint64
			var sum int64
			for _, dp := range hist.DataPoints {
				count += dp.Count
				sum += dp.Sum
			}
			return count, sum
		}
	}
	return 0, 0
}

func TestCreateEnforcesLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := f.store.Create(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Len(t, id, 36)
	}
	_, err := f.store.Create(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrSessionLimit)

	// Other users are unaffected.
	_, err = f.store.Create(ctx, "bob@example.com")
	assert.NoError(t, err)
}

func TestCreateAfterExpiryFreesSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.Create(ctx, "alice@example.com")
		require.NoError(t, err)
	}
	f.clock.Advance(6 * time.Minute)

	_, err := f.store.Create(ctx, "alice@example.com")
	require.NoError(t, err)

	var n int64
	require.NoError(t, f.db.Model(&Session{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	count, _ := f.chatLengths(t)
	assert.Equal(t, uint64(3), count)
}

func TestCreateRejectsBlankIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	sess, err := f.store.Validate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sess.UserIdentifier)
	assert.True(t, sess.LastSeen.Equal(f.clock.Now()))

	_, err = f.store.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.store.Validate(ctx, "not-a-session")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, f.store.Touch(ctx, id))
	require.NoError(t, f.store.Touch(ctx, id))

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.store.Validate(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidSession)

	count, sum := f.chatLengths(t)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, int64(2), sum)
}

func TestTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Touch(ctx, id))
	}

	var sess Session
	require.NoError(t, f.db.First(&sess, "session_id = ?", id).Error)
	assert.Equal(t, 3, sess.ConversationCount)

	assert.ErrorIs(t, f.store.Touch(ctx, "missing"), ErrInvalidSession)
}

func TestDeleteRecordsChatLength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, f.store.Touch(ctx, id))

	require.NoError(t, f.store.Delete(ctx, id))
	_, err = f.store.Validate(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidSession)

	count, sum := f.chatLengths(t)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, int64(1), sum)
}

func TestDeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.Create(ctx, "alice@example.com")
		require.NoError(t, err)
	}
	bob, err := f.store.Create(ctx, "bob@example.com")
	require.NoError(t, err)

	n, err := f.store.DeleteAll(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.store.Create(ctx, "alice@example.com")
	assert.NoError(t, err)
	_, err = f.store.Validate(ctx, bob)
	assert.NoError(t, err)

	_, err = f.store.DeleteAll(ctx, "")
	assert.ErrorIs(t, err, ErrMissingUser)
}
