package middleware

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "у другого пользователя своё окно")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow(1))
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow(1)
	now = now.Add(30 * time.Second)
	rl.Allow(2)

	assert.Equal(t, 2, rl.Sweep())
	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, rl.Sweep(), "первый пользователь выпал из окна")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	defer rl.Close()
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(1))
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "[скрыто]", Redact("/unlock 1234"))
	assert.Equal(t, "[скрыто]", Redact("/setpin 987654"))
	assert.Equal(t, "[скрыто]", Redact("4321"))
	assert.Equal(t, "/verify 1", Redact("/verify 1"))
	assert.Equal(t, "123", Redact("123"))

	long := strings.Repeat("я", 60)
	assert.Equal(t, strings.Repeat("я", 50)+"...", Redact(long))
}

func TestRecoverFromPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverFromPanic()
		panic("boom")
	})
}
