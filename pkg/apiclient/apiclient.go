package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status code %d", e.Service, e.StatusCode)
}

// Limiter hands out one request token per interval
type Limiter struct {
	ticker *time.Ticker
	tokens chan struct{}
	done   chan struct{}
}

// NewLimiter returns nil when requestsPerMinute is not positive, which disables limiting
func NewLimiter(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}

	interval := time.Minute / time.Duration(requestsPerMinute)

	l := &Limiter{
		ticker: time.NewTicker(interval),
		tokens: make(chan struct{}, 1), // Buffer of 1 allows one immediate request
		done:   make(chan struct{}),
	}
	l.tokens <- struct{}{}

	go func() {
		for {
			select {
			case <-l.done:
				return
			case <-l.ticker.C:
				// Try to add a token, but don't block if buffer is full
				select {
				case l.tokens <- struct{}{}:
					log.Trace().Msg("Added token to request channel")
				default:
				}
			}
		}
	}()

	return l
}

// Wait blocks until a token is available or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

// Close stops the ticker goroutine
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.ticker.Stop()
	close(l.done)
}

// Client executes requests against one external service with shared
// rate limiting and request logging
type Client struct {
	service    string
	httpClient *http.Client
	limiter    *Limiter
}

func New(service string, requestsPerMinute int) *Client {
	log.Info().
		Str("service", service).
		Int("requests_per_minute", requestsPerMinute).
		Msg("Initializing API client")

	return &Client{
		service:    service,
		httpClient: &http.Client{Timeout: time.Second * 30},
		limiter:    NewLimiter(requestsPerMinute),
	}
}

// Do waits for a rate limit token, executes req and returns the body of a 2xx response
func (c *Client) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	requestID := "req_" + uuid.NewString()
	startTime := time.Now()
	url := req.URL.Host + req.URL.Path

	log.Debug().
		Str("request_id", requestID).
		Str("service", c.service).
		Str("url", url).
		Msg("Preparing API request")

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	log.Debug().
		Str("request_id", requestID).
		Dur("wait_duration", time.Since(waitStart)).
		Msg("Acquired rate limit token")

	execStart := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Str("service", c.service).
			Str("url", url).
			Dur("exec_duration", time.Since(execStart)).
			Dur("total_duration", time.Since(startTime)).
			Msg("Error executing request")
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	readStart := time.Now()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Dur("exec_duration", readStart.Sub(execStart)).
			Dur("total_duration", time.Since(startTime)).
			Msg("Error reading response body")
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: respBody}
		log.Error().
			Str("request_id", requestID).
			Err(apiErr).
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Int("response_size", len(respBody)).
			Dur("exec_duration", readStart.Sub(execStart)).
			Dur("read_duration", time.Since(readStart)).
			Dur("total_duration", time.Since(startTime)).
			Msg("API returned error response")
		return nil, apiErr
	}

	log.Debug().
		Str("request_id", requestID).
		Str("url", url).
		Int("status_code", resp.StatusCode).
		Int("response_size", len(respBody)).
		Dur("exec_duration", readStart.Sub(execStart)).
		Dur("read_duration", time.Since(readStart)).
		Dur("total_duration", time.Since(startTime)).
		Msg("API request completed successfully")

	return respBody, nil
}

// Close stops the rate limiter when the client is no longer needed
func (c *Client) Close() {
	log.Info().Str("service", c.service).Msg("Shutting down API client")
	c.limiter.Close()
}
