package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"petboarding/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	from = time.Date(2030, 7, 1, 0, 0, 0, 0, time.UTC)
	to   = from.AddDate(0, 0, 1)
)

func TestGetAvailabilityUsesCache(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v1/plannings/p1/availability", r.URL.Path)
		assert.Equal(t, "2030-07-01", r.URL.Query().Get("from"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(AvailabilityResponse{
			PlanningID: "p1",
			Days:       []AvailabilityDay{{Date: "2030-07-01", MaxCapacity: 3, Available: 2, Defined: true}},
		})
	}))
	t.Cleanup(ts.Close)

	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := New(ts.URL, "secret")
	c.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 2; i++ {
		resp, err := c.GetAvailability(context.Background(), "p1", from, to)
		require.NoError(t, err)
		require.Len(t, resp.Days, 1)
		assert.Equal(t, 2, resp.Days[0].Available)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.Exists("availability:p1:2030-07-01:2030-07-02"))
}

func TestAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"database: record not found"}`))
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL, "").GetReservation(context.Background(), "r1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "record not found")
}

func TestCancelReservation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/reservations/r1/cancel", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Staff-Key"))
		_ = json.NewEncoder(w).Encode(models.Reservation{ID: "r1", Status: models.ReservationCancelled})
	}))
	t.Cleanup(ts.Close)

	r, err := New(ts.URL, "k").WithHeader("X-Staff-Key").CancelReservation(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, r.Status)
}
