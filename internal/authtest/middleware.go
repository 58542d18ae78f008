package authtest

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	requestIDHeader      = "X-Request-ID"
	requestIDLocal       = "request_id"
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyTTL       = time.Hour
)

// requestID echoes the caller's X-Request-ID, minting one when absent, the
// way the real service does.
func (s *Server) requestID(c *fiber.Ctx) error {
	reqID := c.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Set(requestIDHeader, reqID)
	c.Locals(requestIDLocal, reqID)
	return c.Next()
}

func requestIDFrom(c *fiber.Ctx) string {
	if v, ok := c.Locals(requestIDLocal).(string); ok {
		return v
	}
	return c.Get(requestIDHeader)
}

type replayCache struct {
	client *redis.Client
}

type storedResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// EnableIdempotency makes the server answer a repeated Idempotency-Key with
// the first response without running the handler again. A repeat that
// arrives while the first is still running gets 409.
func (s *Server) EnableIdempotency(t testing.TB) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s.mu.Lock()
	s.replay = &replayCache{client: client}
	s.mu.Unlock()
}

func (s *Server) idempotency(c *fiber.Ctx) error {
	s.mu.Lock()
	cache := s.replay
	s.mu.Unlock()

	key := c.Get(idempotencyKeyHeader)
	if cache == nil || key == "" {
		return c.Next()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cacheKey := idempotencyPrefix + key

	cached, err := cache.client.Get(ctx, cacheKey).Result()
	switch {
	case err == nil && cached == inProgressMarker:
		s.record(c, true)
		return c.Status(http.StatusConflict).JSON(fiber.Map{"success": false, "message": "duplicate request currently processing"})
	case err == nil:
		var stored storedResponse
		if err := json.Unmarshal([]byte(cached), &stored); err != nil {
			return c.Status(http.StatusConflict).JSON(fiber.Map{"success": false, "message": "duplicate request"})
		}
		s.record(c, true)
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(stored.Status).SendString(stored.Body)
	case err != redis.Nil:
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "idempotency store failure"})
	}

	if err := cache.client.SetNX(ctx, cacheKey, inProgressMarker, idempotencyTTL).Err(); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "idempotency reservation failure"})
	}

	if err := c.Next(); err != nil {
		cache.client.Del(context.Background(), cacheKey)
		return err
	}

	payload, err := json.Marshal(storedResponse{
		Status: c.Response().StatusCode(),
		Body:   string(c.Response().Body()),
	})
	if err == nil {
		err = cache.client.Set(context.Background(), cacheKey, payload, idempotencyTTL).Err()
	}
	if err != nil {
		cache.client.Del(context.Background(), cacheKey)
	}
	return nil
}
