package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHeaderTransport(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newHTTPClient(RunConfig{
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Team": "research", "Authorization": "Bearer profile"},
	}, zap.NewNop(), false)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer session")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, userAgent, got.Get("User-Agent"))
	assert.Equal(t, "research", got.Get("X-Team"))
	assert.Equal(t, "Bearer session", got.Get("Authorization"), "profile headers never override request headers")
	assert.Equal(t, "Bearer session", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("X-Team"), "the caller's request is not mutated")
}

func TestLoggingTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"complete\"}\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	client := newHTTPClient(RunConfig{Timeout: 5 * time.Second, Verbose: true}, zap.New(core), true)

	t.Run("json response is logged and still readable", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/conversations/c1/message",
			strings.NewReader(`{"content":"hi","pdf_data":"`+strings.Repeat("A", 500)+`"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer secret-token")

		resp, err := client.Do(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, string(body))

		sent := logs.FilterMessage(">>> request").TakeAll()
		require.Len(t, sent, 1)
		fields := sent[0].ContextMap()
		assert.NotContains(t, fmt.Sprint(fields["headers"]), "secret-token")
		assert.Contains(t, fields["body"], `"content": "hi"`)
		assert.NotContains(t, fields["body"], strings.Repeat("A", 100), "attachment payload is truncated")

		received := logs.FilterMessage("<<< response").TakeAll()
		require.Len(t, received, 1)
		assert.Contains(t, received[0].ContextMap()["body"], `"status": "ok"`)
	})

	t.Run("event streams pass through unread", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/stream")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, 1, logs.FilterMessage("<<< streaming response").Len())
		assert.Zero(t, logs.FilterMessage("<<< response").Len())

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "data: {\"type\":\"complete\"}\n\n", string(body))
	})
}

func TestHTTPClientTimeouts(t *testing.T) {
	cfg := RunConfig{Timeout: 42 * time.Second}
	assert.Equal(t, 42*time.Second, newHTTPClient(cfg, zap.NewNop(), false).Timeout)
	assert.Zero(t, newHTTPClient(cfg, zap.NewNop(), true).Timeout, "streams are bounded by the header timeout only")
}

func TestPrettyBody(t *testing.T) {
	assert.Equal(t, "not json", prettyBody([]byte("not json")))
	out := prettyBody([]byte(`{"base64":"` + strings.Repeat("x", 200) + `","filename":"a.pdf"}`))
	assert.Contains(t, out, strings.Repeat("x", 64)+"...")
	assert.Contains(t, out, `"filename": "a.pdf"`)
}
