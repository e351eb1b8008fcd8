package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"petboarding/internal/models"

	"github.com/redis/go-redis/v9"
)

// Client calls the petboarding HTTP API on behalf of operators and partner sites.
type Client struct {
	baseURL    string
	apiKey     string
	header     string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// AvailabilityDay is one day of a planning as returned by the availability endpoint.
type AvailabilityDay struct {
	Date        string `json:"date"`
	MaxCapacity int    `json:"max_capacity"`
	Reserved    int    `json:"reserved"`
	Available   int    `json:"available"`
	Defined     bool   `json:"defined"`
}

type AvailabilityResponse struct {
	PlanningID string            `json:"planning_id"`
	Days       []AvailabilityDay `json:"days"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		header:     "x-api-key",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHeader overrides the API key header name.
func (c *Client) WithHeader(name string) *Client {
	if name != "" {
		c.header = name
	}
	return c
}

// UseRedisCache configures optional Redis caching for availability lookups.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// GetAvailability fetches capacity for planningID over [from, to].
func (c *Client) GetAvailability(ctx context.Context, planningID string, from, to time.Time) (*AvailabilityResponse, error) {
	fromStr, toStr := from.Format(models.DateLayout), to.Format(models.DateLayout)
	endpoint := fmt.Sprintf("%s/api/v1/plannings/%s/availability?from=%s&to=%s",
		c.baseURL, url.PathEscape(planningID), url.QueryEscape(fromStr), url.QueryEscape(toStr))
	cacheKey := fmt.Sprintf("availability:%s:%s:%s", planningID, fromStr, toStr)

	var resp AvailabilityResponse
	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

func (c *Client) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	endpoint := fmt.Sprintf("%s/api/v1/reservations/%s", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CancelReservation cancels as staff: no owner check is requested.
func (c *Client) CancelReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	endpoint := fmt.Sprintf("%s/api/v1/reservations/%s/cancel", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
