package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestWrapRedis(t *testing.T) {
	assert.NoError(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.ErrorIs(t, err, redis.Nil)

	err = WrapRedis(errors.New("connection refused"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, RedisErrorMessage, MessageOf(err))
}

func TestWrapDB(t *testing.T) {
	assert.NoError(t, WrapDB(nil))

	err := WrapDB(fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	err = WrapDB(errors.New("deadlock"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))

	invalid := Invalid(errors.New("bad items"), "items must be a list")
	assert.Same(t, invalid, WrapDB(invalid))
}

func TestStatusAndMessageDefaults(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Equal(t, SystemErrorMessage, MessageOf(err))

	wrapped := fmt.Errorf("outer: %w", Unauthorized(nil, "session expired"))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(wrapped))
	assert.Equal(t, "session expired", MessageOf(wrapped))
	assert.Equal(t, "session expired", Unauthorized(nil, "session expired").Error())
}

func TestAppErrorAs(t *testing.T) {
	sentinel := errors.New("order 7 not found")
	err := fmt.Errorf("tool: %w", NotFound(sentinel, ""))

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, NotFoundMessage, appErr.Message)
	assert.ErrorIs(t, err, sentinel)
}
