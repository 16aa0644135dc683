package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	idempotencyPrefix = "dispatch:idempotency:"
)

// storedResponse is a replayable response for a repeated POST.
type storedResponse struct {
	Status      int             `json:"status"`
	ContentType string          `json:"content_type,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// captureWriter tees the response body so it can be stored.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key that was already handled. Keys are scoped to the route, so
// retrying an accept never replays a different action. Server errors are not
// stored and Redis failures fall through to normal handling.
func IdempotencyMiddleware(client *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if client == nil || key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		storeKey := idempotencyPrefix + c.Request.URL.Path + ":" + key

		stored, err := loadResponse(ctx, client, storeKey)
		if err == nil {
			c.Header("Idempotent-Replay", "true")
			if stored.Status == http.StatusNoContent {
				c.AbortWithStatus(stored.Status)
				return
			}
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		_ = saveResponse(ctx, client, storeKey, &storedResponse{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
	}
}

func loadResponse(ctx context.Context, client *redis.Client, key string) (*storedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var r storedResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Status == 0 {
		return nil, errors.New("stored response without status")
	}
	return &r, nil
}

func saveResponse(ctx context.Context, client *redis.Client, key string, r *storedResponse) error {
	if len(r.Body) == 0 {
		r.Body = nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, idempotencyTTL).Err()
}
