package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

var ErrKeyNotFound = errors.New("api key not found")

// APIKey maps a gateway key to the user it authenticates and their plan.
type APIKey struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	PlanSlug  vtplus.PlanSlug `json:"plan_slug"`
	KeyHash   string          `json:"key_hash"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

func (a *APIKey) User() *vtplus.User {
	return &vtplus.User{ID: a.UserID, PlanSlug: a.PlanSlug}
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

// Cache is the subset of *redis.Client the middleware uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	userKey      contextKey = "user"
	apiKeyIDKey  contextKey = "api_key_id"
	requestIDKey contextKey = "request_id"
)

const cacheTTL = 5 * time.Minute

func HashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

func NewMiddleware(store Store, cache Cache) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			var apiKey APIKey
			err := cache.Get(ctx, redisKey).Scan(&apiKey)
			if err == nil {
				ctx = withKey(ctx, &apiKey)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			} else if !errors.Is(err, redis.Nil) {
				log.WithError(err).Warn("auth: redis lookup failed")
			}

			apiK, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
					return
				}
				log.WithError(err).Error("auth: key lookup failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if err := cache.Set(ctx, redisKey, apiK, cacheTTL).Err(); err != nil {
				log.WithError(err).Warn("auth: redis write failed")
			}

			ctx = withKey(ctx, apiK)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withKey(ctx context.Context, k *APIKey) context.Context {
	ctx = context.WithValue(ctx, userKey, k.User())
	return context.WithValue(ctx, apiKeyIDKey, k.ID)
}

// GetUser returns the authenticated caller, or nil.
func GetUser(ctx context.Context) *vtplus.User {
	if u, ok := ctx.Value(userKey).(*vtplus.User); ok {
		return u
	}
	return nil
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithUser(ctx context.Context, user *vtplus.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}
