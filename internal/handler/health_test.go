package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type stubConn bool

func (c stubConn) IsConnected() bool { return bool(c) }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(stubPinger{}, nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		store  Pinger
		nats   ConnectionChecker
		status int
	}{
		{"store and bus up", stubPinger{}, stubConn(true), http.StatusOK},
		{"bus disabled", stubPinger{}, nil, http.StatusOK},
		{"store down", stubPinger{err: errors.New("refused")}, stubConn(true), http.StatusServiceUnavailable},
		{"bus down", stubPinger{}, stubConn(false), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.nats)
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
