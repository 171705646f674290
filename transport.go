package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const userAgent = "llm-council-cli/1.0"

// headerTransport adds the configured profile headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// loggingTransport dumps requests and responses at debug level. Event
// streams are passed through unread so they keep arriving incrementally.
type loggingTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Any("headers", redactHeaders(req.Header)),
	}
	if req.Body != nil && req.Body != http.NoBody {
		reqBody, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
		fields = append(fields, zap.String("body", prettyBody(reqBody)))
	}
	t.logger.Debug(">>> request", fields...)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("<<< transport error", zap.String("url", req.URL.String()), zap.Error(err))
		return nil, err
	}

	fields = []zap.Field{
		zap.String("status", resp.Status),
		zap.Duration("elapsed", time.Since(start)),
		zap.Any("headers", resp.Header),
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.logger.Debug("<<< streaming response", fields...)
		return resp, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	t.logger.Debug("<<< response", append(fields, zap.String("body", prettyBody(respBody)))...)
	return resp, nil
}

func prettyBody(body []byte) string {
	var jsonData interface{}
	if err := json.Unmarshal(body, &jsonData); err != nil {
		return string(body)
	}
	// Attachment payloads are large and useless in a log.
	if m, ok := jsonData.(map[string]interface{}); ok {
		for _, key := range []string{"pdf_data", "base64"} {
			if s, ok := m[key].(string); ok && len(s) > 64 {
				m[key] = s[:64] + "..."
			}
		}
	}
	jsonBytes, _ := json.MarshalIndent(jsonData, "", "  ")
	return string(jsonBytes)
}

func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out.Get("Authorization") != "" {
		out.Set("Authorization", "Bearer <redacted>")
	}
	return out
}

// newHTTPClient builds the client for one kind of traffic. Streaming
// clients get no overall deadline, only a bound on the time to first byte.
func newHTTPClient(cfg RunConfig, logger *zap.Logger, streaming bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	var rt http.RoundTripper = &headerTransport{base: transport, headers: cfg.Headers}
	if cfg.Verbose {
		rt = &loggingTransport{base: rt, logger: logger}
	}

	client := &http.Client{Transport: rt}
	if !streaming {
		client.Timeout = cfg.Timeout
	}
	return client
}
