package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mediasift/mediasift/internal/version"
)

// apiClient is the thin HTTP client the CLI commands use against a running
// mediasift server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiErrorBody is the RFC 7807 problem shape the server returns.
type apiErrorBody struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &exitError{code: exitUserError, err: fmt.Errorf("encoding request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return &exitError{code: exitUserError, err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &exitError{code: exitInterrupted, err: ctx.Err()}
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return &exitError{code: exitUnreachable,
				err: fmt.Errorf("cannot reach mediasift server at %s: %w", c.base, urlErr.Err)}
		}
		return &exitError{code: exitUnreachable, err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exitError{code: exitUnreachable, err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		apiErr := apiErrorBody{}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return &exitError{code: exitUserError,
				err: fmt.Errorf("%s: %s", strings.ToLower(apiErr.Title), apiErr.Detail)}
		}
		return &exitError{code: exitUserError,
			err: fmt.Errorf("server returned %s", resp.Status)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &exitError{code: exitUserError, err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
