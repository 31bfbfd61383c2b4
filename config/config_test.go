package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24, cfg.JWT.ExpireHours)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEUrls)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WEBRTC_ICE_URLS", " stun:a.example.com:3478 , turn:b.example.com:3478 ,")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"stun:a.example.com:3478", "turn:b.example.com:3478"}, cfg.WebRTC.ICEUrls)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "telemedic", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@db:5432/telemedic?sslmode=disable", db.DSN())

	db.URL = "postgres://explicit/override"
	assert.Equal(t, "postgres://explicit/override", db.DSN())
}
