package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/maheshrc27/crosspost/internal/transfer"
)

// Graph API error code for an expired or revoked access token.
const graphInvalidToken = 190

// graphClient talks to the Facebook and Instagram Graph APIs, which take the
// access token as a parameter rather than a header.
type graphClient struct {
	api  apiClient
	base string
}

func (g graphClient) call(ctx context.Context, method, path, token string, params url.Values, stage Stage, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if token != "" {
		params.Set("access_token", token)
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = newRequest(ctx, method, g.base+path+"?"+params.Encode(), nil)
	} else {
		req, err = newRequest(ctx, method, g.base+path, params)
	}
	if err != nil {
		return err
	}

	_, err = g.api.send(req, stage, out)
	return graphError(err)
}

// graphError marks token rejections, which Graph reports as 400 with code 190.
func graphError(err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	var body transfer.GraphErrorResponse
	if json.Unmarshal([]byte(pe.Body), &body) == nil && body.Error.Code == graphInvalidToken {
		return fmt.Errorf("%w: %w", ErrCredentialInvalid, pe)
	}
	return err
}
