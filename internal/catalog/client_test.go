package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/config"
)

func TestClient_ResetOnAir(t *testing.T) {
	var got resetOnAirRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/pages/reset-on-air", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"updated":3}`))
	}))
	defer srv.Close()

	c := NewClient(config.CatalogConfig{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	require.NoError(t, c.ResetOnAir(context.Background(), "ch-1"))
	assert.Equal(t, "ch-1", got.ChannelID)
}

func TestClient_ResetOnAirErrors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	c := NewClient(config.CatalogConfig{BaseURL: srv.URL, Timeout: time.Second})

	err := c.ResetOnAir(context.Background(), "ch-1")
	assert.ErrorIs(t, err, ErrRejected)

	status = http.StatusBadGateway
	err = c.ResetOnAir(context.Background(), "ch-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestClient_UnconfiguredIsNoop(t *testing.T) {
	c := NewClient(config.CatalogConfig{})
	assert.False(t, c.IsConfigured())
	assert.NoError(t, c.ResetOnAir(context.Background(), "ch-1"))
}
