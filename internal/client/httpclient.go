package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
)

// httpClient is the shared JSON-over-HTTP helper used by the collaborator
// clients. Non-2xx responses surface as DEPENDENCY errors.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Get performs a GET request and decodes the JSON response into out.
func (c *httpClient) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "build request")
	}
	return c.do(req, out)
}

// Post performs a POST request with a JSON body, decoding the response into
// out when out is non-nil.
func (c *httpClient) Post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// PutRaw performs a PUT request with an opaque binary body.
func (c *httpClient) PutRaw(ctx context.Context, path, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, nil)
}

// GetRaw performs a GET request and returns the raw response body.
func (c *httpClient) GetRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "call collaborator service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.CodeDependency, "collaborator returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "call collaborator service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.Newf(apperr.CodeDependency,
			"collaborator returned status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, fmt.Sprintf("decode response from %s", req.URL.Path))
	}
	return nil
}
