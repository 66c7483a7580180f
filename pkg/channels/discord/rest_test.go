package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestClient_CreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels/c1/messages", r.URL.Path)
		assert.Equal(t, "Bot tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "hello", req["content"])

		json.NewEncoder(w).Encode(Message{ID: "m1", ChannelID: "c1", Content: "hello"})
	}))
	defer srv.Close()

	rc := NewRestClient("tok-1", WithAPIBase(srv.URL))
	msg, err := rc.CreateMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestRestClient_TriggerTyping(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rc := NewRestClient("tok", WithAPIBase(srv.URL))
	require.NoError(t, rc.TriggerTyping(context.Background(), "c9"))
	assert.Equal(t, "/channels/c9/typing", path.Load())
}

func TestRestClient_RetryOn429(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"retry_after":0.01}`))
			return
		}
		json.NewEncoder(w).Encode(Message{ID: "m2"})
	}))
	defer srv.Close()

	rc := NewRestClient("tok", WithAPIBase(srv.URL))
	msg, err := rc.CreateMessage(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m2", msg.ID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRestClient_RetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after":0.01}`))
	}))
	defer srv.Close()

	rc := NewRestClient("tok", WithAPIBase(srv.URL))
	_, err := rc.CreateMessage(context.Background(), "c1", "hi")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, int32(1+maxRateLimitRetries), attempts.Load())
}

func TestRestClient_NonRetryableStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Missing Access"}`))
	}))
	defer srv.Close()

	rc := NewRestClient("tok", WithAPIBase(srv.URL))
	err := rc.TriggerTyping(context.Background(), "c1")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, int32(1), attempts.Load(), "non-429 must not retry")
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRestClient_CreateDMChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/@me/channels", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "u7", req["recipient_id"])
		w.Write([]byte(`{"id":"dm-chan-1"}`))
	}))
	defer srv.Close()

	rc := NewRestClient("tok", WithAPIBase(srv.URL))
	id, err := rc.CreateDMChannel(context.Background(), "u7")
	require.NoError(t, err)
	assert.Equal(t, "dm-chan-1", id)
}
