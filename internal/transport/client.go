// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport is the shared outbound HTTP client used by the
// dispatcher and schedulers to talk to fetcher/downloader/viewer
// modules, wrapping every call in a bounded timeout and retry (§4.F,
// §4.G, §5).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

// Client wraps net/http with per-call timeouts and a fixed, bounded
// retry policy (2 attempts, 250ms delay) so one flaky external module
// cannot stall a scheduler tick or the dispatcher's batch timeout (§4.F
// NEW: "bounded to 2 attempts with fixed 250ms delay"). The dispatcher's
// downloader submit call overrides this with SubmitRetryOpts.
type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{http: &http.Client{}}
}

// Call timeouts from §5's concurrency & resource model.
const (
	StatusQueryTimeout    = 10 * time.Second
	DispatchSubmitTimeout = 30 * time.Second
	ViewerSyncTimeout     = 10 * time.Second
	CancelTimeout         = 5 * time.Second
	FetchTriggerTimeout   = 10 * time.Second
)

var retryOpts = []retry.Option{
	retry.Attempts(2),
	retry.Delay(250 * time.Millisecond),
	retry.DelayType(retry.FixedDelay),
	retry.LastErrorOnly(true),
}

// SubmitRetryOpts is the dispatcher's per-downloader submit-call retry
// policy: exponential backoff capped at 3 attempts, grounds matching the
// original downloader-side retry behavior rather than the rest of the
// transport layer's flat 2-attempt policy.
var SubmitRetryOpts = []retry.Option{
	retry.Attempts(3),
	retry.Delay(250 * time.Millisecond),
	retry.DelayType(retry.BackOffDelay),
	retry.LastErrorOnly(true),
}

// PostJSON POSTs body as JSON to url with the given timeout, retrying
// transient failures, and decodes the response into out (if non-nil). A
// non-2xx response is returned as an error without retrying — retries
// are for network failures, not application-level rejections, matching
// §4.F.5's "network error is whole-batch-rejected, try next downloader"
// distinction from an explicit reject response. opts overrides the
// default fixed 2-attempt retry policy when the caller needs a different
// one (e.g. the dispatcher's SubmitRetryOpts).
func (c *Client) PostJSON(ctx context.Context, url string, body, out any, timeout time.Duration, opts ...retry.Option) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if len(opts) == 0 {
		opts = retryOpts
	}

	var respBody []byte
	err = retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return retry.Unrecoverable(fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode))
		}
		respBody = data
		return nil
	}, opts...)

	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("outbound POST failed after retries")
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetJSON performs a retried GET with query parameters already baked
// into url, decoding the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any, timeout time.Duration) error {
	var respBody []byte
	err := retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return retry.Unrecoverable(fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode))
		}
		respBody = data
		return nil
	}, retryOpts...)

	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("outbound GET failed after retries")
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
