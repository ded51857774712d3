package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// APIKeyContextKey holds the raw credential extracted from the
	// configured header.
	APIKeyContextKey contextKey = "api_key"
	// UserIDContextKey holds the user identity resolved from the
	// credential. Until a real identity provider is wired in, it
	// mirrors the credential itself.
	UserIDContextKey contextKey = "user_id"
)

type authCacheEntry struct {
	userID    string
	expiresAt time.Time
}

// Auth validates the credential on the configured header and attaches
// the resolved user ID to the request context. Validated credentials
// are cached briefly so every request doesn't re-derive identity.
type Auth struct {
	logger    zerolog.Logger
	headerKey string
	cacheTTL  time.Duration

	mu    sync.Mutex
	cache map[string]authCacheEntry
}

// NewAuth builds an Auth middleware reading credentials from headerKey.
func NewAuth(logger zerolog.Logger, headerKey string) *Auth {
	return &Auth{
		logger:    logger.With().Str("component", "auth_middleware").Logger(),
		headerKey: headerKey,
		cacheTTL:  5 * time.Minute,
		cache:     make(map[string]authCacheEntry),
	}
}

// Handler enforces authentication on the wrapped handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(a.headerKey)
		if raw == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		key := strings.TrimPrefix(raw, "Bearer ")
		key = strings.TrimSpace(key)
		if key == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}

		userID, ok := a.lookupCache(key)
		if !ok {
			// No external identity provider is wired in; the key itself
			// is treated as the user identity. A real deployment would
			// call out to the identity service here.
			userID = key
			a.storeCache(key, userID)
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
		ctx = context.WithValue(ctx, UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) lookupCache(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(a.cache, key)
		return "", false
	}
	return entry.userID, true
}

func (a *Auth) storeCache(key, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = authCacheEntry{userID: userID, expiresAt: time.Now().Add(a.cacheTTL)}
}

// GetAPIKey extracts the credential stashed in the request context.
func GetAPIKey(ctx context.Context) string {
	v, _ := ctx.Value(APIKeyContextKey).(string)
	return v
}

// GetUserID extracts the resolved user ID stashed in the request context.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDContextKey).(string)
	return v
}
