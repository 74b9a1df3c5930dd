package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EXAM_SERVICE_MODE", "")
	t.Setenv("TICK_INTERVAL_MS", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	assert.Equal(t, ExamServiceHTTP, cfg.ExamServiceMode)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EXAM_SERVICE_MODE", "Postgres")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("MAX_DB_CONNS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.test, ,https://b.test ")

	cfg := Load()
	assert.Equal(t, ExamServicePostgres, cfg.ExamServiceMode)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, int32(16), cfg.MaxDBConns)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.Local, (&Config{ExamTimezone: "Local"}).Location())
	assert.Equal(t, time.Local, (&Config{ExamTimezone: "Not/AZone"}).Location())
	assert.Equal(t, "UTC", (&Config{ExamTimezone: "UTC"}).Location().String())
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "user:7:exam:e1:session", CacheKey.SessionMetaKey("e1", 7))
	assert.Equal(t, "user:7:exam:e1:answers", CacheKey.SessionAnswersKey("e1", 7))
	assert.Equal(t, "user:7:active_session", CacheKey.UserActiveSessionKey(7))
}
