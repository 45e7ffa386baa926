package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chanson/internal/app/notification"
	"github.com/osa030/chanson/internal/domain/stream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/", RTPHost: "127.0.0.1", Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{RTPHost: "127.0.0.1"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://localhost:3000"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "http://localhost:3000/", RTPHost: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", c.baseURL)
}

func TestStartProduction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/startProducer", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rtpPort": 40000, "rtcpPort": 40001}`)
	})

	endpoint, err := client.StartProduction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.Endpoint{Host: "127.0.0.1", RTPPort: 40000, RTCPPort: 40001}, endpoint)
}

func TestStartProduction_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		errMsg string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "transport busy", errMsg: "status 500"},
		{name: "malformed body", status: http.StatusOK, body: "not json", errMsg: "parse"},
		{name: "missing ports", status: http.StatusOK, body: `{}`, errMsg: "invalid ports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.StartProduction(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrGatewayFailure))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStartProduction_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(Config{BaseURL: url, RTPHost: "127.0.0.1", Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.StartProduction(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGatewayFailure))
}

func TestStopProduction(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/stopProducer", r.URL.Path)
		called = true
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.StopProduction(context.Background()))
	assert.True(t, called)
}

func TestUpdateQueue(t *testing.T) {
	var received []notification.Item
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/updateQueue", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	})

	items := []notification.Item{
		{Title: "One", Artist: "X", Album: "A", Cover: "https://img/1"},
		{Title: "Two", Artist: "Y", Album: "B", Cover: "https://img/2"},
	}
	require.NoError(t, client.UpdateQueue(context.Background(), items))
	assert.Equal(t, items, received)
}

func TestUpdateQueue_EmptyQueueSendsArray(t *testing.T) {
	var raw string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw = string(b)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.UpdateQueue(context.Background(), nil))
	assert.Equal(t, "[]", raw)
}

func TestClient_ImplementsSink(t *testing.T) {
	var _ notification.Sink = (*Client)(nil)
}
