// Package httpinvoke dispatches downloads to workers over HTTP.
package httpinvoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/italolelis/vod_pipeline/internal/invoke"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const driverName = "http"

// Client posts dispatch messages to a worker service.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient builds a worker client for baseURL. When token is set, requests
// carry it as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	var hc *http.Client

	if token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), tokenSource)
	} else {
		hc = &http.Client{}
	}

	hc.Timeout = timeout
	hc.Transport = otelhttp.NewTransport(hc.Transport)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
	}
}

// Dispatch asks a worker to start downloading the given record's file.
func (c *Client) Dispatch(ctx context.Context, rec storage.DownloadRecord) error {
	logger := logctx.LoggerFromContext(ctx)

	body, err := json.Marshal(invoke.Message{FileID: rec.FileID, Attempt: rec.RetryCount})
	if err != nil {
		return &invoke.DispatchError{Driver: driverName, FileID: rec.FileID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/downloads", bytes.NewReader(body))
	if err != nil {
		return &invoke.DispatchError{Driver: driverName, FileID: rec.FileID, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &invoke.DispatchError{Driver: driverName, FileID: rec.FileID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &invoke.DispatchError{
			Driver: driverName,
			FileID: rec.FileID,
			Err:    fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	logger.DebugContext(ctx, "dispatched download to worker", "file_id", rec.FileID, "attempt", rec.RetryCount)

	return nil
}

func (c *Client) Driver() string {
	return driverName
}
