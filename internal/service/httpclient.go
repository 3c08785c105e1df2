package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
)

const maxErrorBody = 4096

// apiClient wraps the provider HTTP calls. Non-2xx answers become *ProviderError.
type apiClient struct {
	provider models.Provider
	http     *http.Client
}

func newAPIClient(provider models.Provider, client *http.Client) apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return apiClient{provider: provider, http: client}
}

// newRequest builds a request whose body is encoded from payload: url.Values is
// sent as a form, io.Reader and []byte as is, anything else as JSON.
func newRequest(ctx context.Context, method, rawURL string, payload any) (*http.Request, error) {
	var body io.Reader
	contentType := ""

	switch p := payload.(type) {
	case nil:
	case url.Values:
		body = strings.NewReader(p.Encode())
		contentType = "application/x-www-form-urlencoded"
	case []byte:
		body = bytes.NewReader(p)
		contentType = "application/octet-stream"
	case io.Reader:
		body = p
		contentType = "application/octet-stream"
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// send executes req and decodes a JSON answer into out when out is not nil.
func (c apiClient) send(req *http.Request, stage Stage, out any) (http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, atStage(stage, fmt.Errorf("%s request: %w", c.provider, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.Header, &ProviderError{
			Provider:   c.provider,
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.Header, atStage(stage, err)
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.Header, atStage(stage, fmt.Errorf("decode %s response: %w", c.provider, err))
			}
		}
	}
	return resp.Header, nil
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
