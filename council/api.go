// Package council is a client for the LLM Council backend: session handling,
// the streamed three-stage turn protocol and the state machine that settles
// a turn into conversation history.
package council

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Credentials supplies the bearer token for outgoing requests. It is read
// on every request, never captured.
type Credentials interface {
	Token() string
}

// Options configures the HTTP side of every council component.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type apiClient struct {
	base   string
	http   *http.Client
	creds  Credentials
	logger *zap.Logger
}

func newAPI(opts Options, creds Credentials) *apiClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &apiClient{
		base:   strings.TrimSuffix(opts.BaseURL, "/"),
		http:   hc,
		creds:  creds,
		logger: logger,
	}
}

func urlJoin(base, rel string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	relURL, err := url.Parse(rel)
	if err != nil {
		return "", err
	}

	if relURL.Scheme != "" && relURL.Host != "" {
		return rel, nil
	}

	joinedPath := path.Join("/", baseURL.Path, relURL.Path)

	result := &url.URL{
		Scheme:   baseURL.Scheme,
		User:     baseURL.User,
		Host:     baseURL.Host,
		Path:     joinedPath,
		RawQuery: relURL.RawQuery,
	}

	return result.String(), nil
}

func (a *apiClient) newRequest(ctx context.Context, method, rel string, body interface{}) (*http.Request, error) {
	target, err := urlJoin(a.base, rel)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	a.authorize(req)
	return req, nil
}

func (a *apiClient) authorize(req *http.Request) {
	if a.creds == nil {
		return
	}
	if token := a.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// send performs req and returns the response when the status is 2xx.
// The caller owns the body.
func (a *apiClient) send(req *http.Request, op string) (*http.Response, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		a.logger.Debug("request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: decodeDetail(body)}
	}
	return resp, nil
}

// do sends req and decodes a JSON response into out (if non-nil).
func (a *apiClient) do(req *http.Request, op string, out interface{}) error {
	resp, err := a.send(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConnectivityError{Op: op, Err: fmt.Errorf("unexpected response: %w", err)}
	}
	return nil
}

func notFound(err error, resource, id string) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}
