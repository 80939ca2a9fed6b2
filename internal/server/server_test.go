package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telnet2/winbus/internal/bus"
	"github.com/telnet2/winbus/internal/kvstore"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus, *kvstore.MemStore) {
	t.Helper()
	store := kvstore.NewMemStore()
	b := bus.New(store)
	t.Cleanup(func() { b.Close() })

	cfg := DefaultConfig()
	cfg.EnableCORS = false
	return New(cfg, b), b, store
}

func TestFireEvent(t *testing.T) {
	srv, _, store := newTestServer(t)

	body := `{"name":"modelProvidersUpdated","payload":{"ids":["a","b"]}}`
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	value, err := store.Get(context.Background(), "window.events.modelProvidersUpdated")
	require.NoError(t, err)

	e, err := bus.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, "modelProvidersUpdated", e.Name)
	assert.Equal(t, map[string]any{"ids": []any{"a", "b"}}, e.Payload)
}

func TestFireEventValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{not json`},
		{"missing name", `{"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
		})
	}
}

func TestFireEventStoreUnavailable(t *testing.T) {
	srv, _, store := newTestServer(t)
	store.SetFailing(true)

	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCurrentEvent(t *testing.T) {
	srv, b, _ := newTestServer(t)

	require.NoError(t, b.Fire(context.Background(), "state", map[string]any{"v": float64(1)}))

	req := httptest.NewRequest(http.MethodGet, "/event/state", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var e bus.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "state", e.Name)
	assert.Equal(t, map[string]any{"v": float64(1)}, e.Payload)
}

func TestCurrentEventNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/event/neverFired", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamEvents(t *testing.T) {
	srv, b, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/event", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	scanner := bufio.NewScanner(resp.Body)
	readEvent := func() bus.Envelope {
		t.Helper()
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e bus.Envelope
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			return e
		}
		t.Fatal("stream ended before an event arrived")
		return bus.Envelope{}
	}

	hello := readEvent()
	assert.Equal(t, "server.connected", hello.Name)

	// The stream may attach an instant after the fire; retry until the
	// envelope comes through.
	go func() {
		for i := 0; i < 50; i++ {
			b.Fire(context.Background(), "providersUpdated", map[string]any{"n": float64(i)})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	e := readEvent()
	assert.Equal(t, "providersUpdated", e.Name)
	assert.Equal(t, b.Origin(), e.Origin)
}
