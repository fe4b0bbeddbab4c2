// Package remote implements the Remote Loader of §4.2: the sole component
// that speaks the realm protocol, verifying every byte that enters or
// leaves the device. The transport is an HTTP+JSON client modeled directly
// on the teacher's apiclient.KopiaAPIClient (its Post shape and pkg/errors
// wrapping; there is no Get method and no logger), since that is
// the donor's own realm-service-facing RPC client and the spec's §6 RPC
// surface is itself request/response shaped.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Transport is the thin HTTP+JSON client every RPC method below is built
// on, mirroring apiclient.KopiaAPIClient.Post.
type Transport struct {
	BaseURL    string
	HTTPClient *http.Client
	Username   string
	Password   string
}

// NewTransport builds a Transport with sane request timeouts (§5
// "Timeouts. RPCs have per-call timeouts; crypto operations do not.").
func NewTransport(baseURL string) *Transport {
	return &Transport{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Post sends reqPayload as JSON and decodes the JSON response into
// respPayload, exactly apiclient.KopiaAPIClient.Post's shape.
func (t *Transport) Post(ctx context.Context, path string, reqPayload, respPayload interface{}) error {
	var buf bytes.Buffer

	if err := json.NewEncoder(&buf).Encode(reqPayload); err != nil {
		return errors.Wrap(err, "unable to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	req.Header.Set("Content-Type", "application/json")

	if t.Username != "" {
		req.SetBasicAuth(t.Username, t.Password)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return &OfflineError{Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("invalid server response: %v", resp.Status)
	}

	if respPayload == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respPayload); err != nil {
		return errors.Wrap(err, "malformed server response")
	}

	return nil
}

func (t *Transport) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}

	return http.DefaultClient
}

// OfflineError wraps a transport-level failure (the realm service is
// unreachable), mapped by callers to parsecerr.Offline.
type OfflineError struct{ Cause error }

func (e *OfflineError) Error() string { return "backend offline: " + e.Cause.Error() }
func (e *OfflineError) Unwrap() error { return e.Cause }
