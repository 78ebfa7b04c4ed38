// Package client calls the prediction endpoint over HTTP/JSON.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"churnintel/ml"
)

const maxResponseBytes = 1 << 20

type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a client for the predict endpoint URL. The timeout bounds each
// call; it is the caller-side timeout the service itself does not impose.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient is New with a caller-supplied transport.
func NewWithHTTPClient(endpoint string, httpClient *http.Client) *Client {
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

type response struct {
	Prediction  *int     `json:"prediction"`
	Probability *float64 `json:"probability"`
	Error       *string  `json:"error"`
}

// Predict sends one record. Errors are *TransportError for network and
// decoding failures, *RemoteError when the endpoint answered with an error
// payload.
func (c *Client) Predict(ctx context.Context, raw ml.RawRecord) (ml.Result, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return ml.Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ml.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ml.Result{}, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ml.Result{}, &TransportError{Endpoint: c.endpoint, Err: err}
	}

	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return ml.Result{}, &TransportError{
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("status %d: undecodable response: %w", resp.StatusCode, err),
		}
	}

	// presence of the error key decides, whatever the status code
	if decoded.Error != nil {
		return ml.Result{}, &RemoteError{StatusCode: resp.StatusCode, Message: *decoded.Error}
	}
	if decoded.Prediction == nil || decoded.Probability == nil {
		return ml.Result{}, &TransportError{
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("status %d: response missing prediction or probability", resp.StatusCode),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return ml.Result{}, &RemoteError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return ml.Result{Prediction: *decoded.Prediction, Probability: *decoded.Probability}, nil
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
