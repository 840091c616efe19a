package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avazar/letsencrypt-aw/acme"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
	acmenet "github.com/avazar/letsencrypt-aw/net"
)

// RetryConfig bounds the transport's local retries of transient failures
// (rate limiting, 5xx responses, rejected nonces, network errors).
type RetryConfig struct {
	// Total attempts per signed request, including the first.
	MaxAttempts int
	// Backoff before the first retry. Doubles per attempt.
	InitialBackoff time.Duration
	// Upper bound for the backoff between attempts.
	MaxBackoff time.Duration
}

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

func (rc RetryConfig) policy() retryPolicy {
	p := retryPolicy{
		maxAttempts: rc.MaxAttempts,
		initial:     rc.InitialBackoff,
		max:         rc.MaxBackoff,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 5
	}
	if p.initial <= 0 {
		p.initial = 500 * time.Millisecond
	}
	if p.max <= 0 {
		p.max = 30 * time.Second
	}
	return p
}

// errBadNonce marks a response the server rejected for a stale nonce. The
// rejection response carries a fresh Replay-Nonce, so the request is re-signed
// and retried immediately without backoff.
var errBadNonce = errors.New("server rejected the request nonce")

// classifyResponse converts a non-2xx ACME response into a typed error,
// consulting the problem document when one is present. See
// https://tools.ietf.org/html/rfc8555#section-6.7
func classifyResponse(resp *acmenet.NetResponse) error {
	code := resp.Response.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	var prob resources.Problem
	// A missing or malformed problem document leaves prob zero-valued; the
	// status code alone still classifies the response.
	_ = json.Unmarshal(resp.RespBody, &prob)

	switch {
	case prob.Type == acme.PROBLEM_BAD_NONCE:
		return errBadNonce
	case code == http.StatusTooManyRequests || prob.Type == acme.PROBLEM_RATE_LIMITED:
		return acmeerr.New(acmeerr.RateLimited,
			"server rate limited the request (HTTP %d): %s", code, prob.Detail)
	case code >= 500:
		return acmeerr.New(acmeerr.ServerError,
			"server error (HTTP %d): %s", code, prob.Detail)
	default:
		return acmeerr.New(acmeerr.Protocol,
			"unexpected response (HTTP %d): %s", code, prob)
	}
}

// signedRequest POSTs a JWS-signed payload to the given URL. A nil payload
// and an empty payload both produce a POST-as-GET request.
//
// Every attempt consumes the client's current nonce and stores the
// Replay-Nonce of the response, success or failure, so the client stays
// usable for the next request. Rate limiting and 5xx responses are retried
// with bounded exponential backoff; a rejected nonce is re-signed and retried
// immediately. Any other error response surfaces to the caller at once,
// together with the response that produced it.
func (c *Client) signedRequest(ctx context.Context, url string, payload []byte, opts *SigningOptions) (*acmenet.NetResponse, error) {
	if payload == nil {
		payload = []byte("")
	}

	backoff := c.retry.initial
	var lastResp *acmenet.NetResponse
	var lastErr error

	for attempt := 1; attempt <= c.retry.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastResp, err
		}
		if attempt > 1 {
			c.metrics.retries.Inc()
		}

		if err := c.ensureNonce(ctx); err != nil {
			return lastResp, err
		}

		signResult, err := c.Sign(url, payload, opts)
		if err != nil {
			return lastResp, err
		}

		resp, err := c.net.PostURL(ctx, url, signResult.SerializedJWS)
		if err != nil {
			// The request never produced a response. Network blips are treated
			// like server errors: retried with backoff.
			lastErr = acmeerr.New(acmeerr.ServerError, "request to %s failed: %s", url, err)
		} else {
			c.storeNonce(resp.Response.Header)
			c.metrics.signedRequests.
				WithLabelValues(strconv.Itoa(resp.Response.StatusCode)).Inc()

			err = classifyResponse(resp)
			if err == nil {
				return resp, nil
			}
			if errors.Is(err, errBadNonce) {
				c.log.V(1).Info("retrying with fresh nonce", "url", url)
				lastResp, lastErr = resp, err
				continue
			}
			if !acmeerr.Retryable(err) {
				return resp, err
			}
			lastResp, lastErr = resp, err
		}

		if attempt < c.retry.maxAttempts {
			c.log.V(1).Info("retrying after transient failure",
				"url", url, "attempt", attempt, "backoff", backoff.String(), "err", lastErr.Error())
			c.clk.Sleep(backoff)
			backoff *= 2
			if backoff > c.retry.max {
				backoff = c.retry.max
			}
		}
	}

	if errors.Is(lastErr, errBadNonce) {
		lastErr = acmeerr.New(acmeerr.Protocol,
			"server rejected the nonce on %d consecutive attempts", c.retry.maxAttempts)
	}
	return lastResp, lastErr
}

// PostAsGet fetches the resource at the given URL with a POST-as-GET request
// authenticated by the account key. See
// https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) PostAsGet(ctx context.Context, url string) (*acmenet.NetResponse, error) {
	return c.signedRequest(ctx, url, []byte(""), nil)
}
