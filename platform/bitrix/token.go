package bitrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenSource supplies the OAuth access token for REST calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, typically from the environment.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", errors.New("bitrix access token not configured")
	}
	return string(s), nil
}

// RedisTokenSource reads the access token from Redis, where the refresher
// stores it. The value is cached in memory for a short interval so a sweep
// over many records does not hammer Redis; the cache is the only lazily
// initialized state in the client stack.
type RedisTokenSource struct {
	rdb      *redis.Client
	key      string
	fallback TokenSource

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// redisTokenCacheTTL bounds how stale an in-memory token copy may get after
// the refresher rotates the Redis value.
const redisTokenCacheTTL = time.Minute

// NewRedisTokenSource creates a token source backed by the given Redis key.
// When the key is missing, fallback (usually a StaticTokenSource) is
// consulted; pass nil to make a missing key an error.
func NewRedisTokenSource(rdb *redis.Client, key string, fallback TokenSource) *RedisTokenSource {
	return &RedisTokenSource{rdb: rdb, key: key, fallback: fallback}
}

// Token implements TokenSource.
func (r *RedisTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" && time.Now().Before(r.expiresAt) {
		return r.cached, nil
	}

	value, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		if r.fallback != nil {
			return r.fallback.Token(ctx)
		}
		return "", fmt.Errorf("access token not found at redis key %q", r.key)
	}
	if err != nil {
		// Redis being down should not take the sync path with it when a
		// fallback token exists.
		if r.fallback != nil {
			return r.fallback.Token(ctx)
		}
		return "", err
	}

	r.cached = value
	r.expiresAt = time.Now().Add(redisTokenCacheTTL)
	return value, nil
}

// Invalidate drops the in-memory copy so the next Token call re-reads Redis.
func (r *RedisTokenSource) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = ""
	r.expiresAt = time.Time{}
}

// oauthEndpoint is the shared Bitrix24 OAuth server used by all portals.
const oauthEndpoint = "https://oauth.bitrix.info/oauth/token/"

// RefreshedTokens is the result of one OAuth refresh exchange.
type RefreshedTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenRefresher exchanges a long-lived refresh token for a fresh access
// token and stores it in Redis for the worker fleet.
type TokenRefresher struct {
	clientID     string
	clientSecret string
	rdb          *redis.Client
	key          string
	http         *http.Client
}

// NewTokenRefresher creates a refresher writing to the given Redis key.
func NewTokenRefresher(clientID, clientSecret string, rdb *redis.Client, key string) *TokenRefresher {
	return &TokenRefresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		rdb:          rdb,
		key:          key,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Refresh performs the OAuth exchange and persists the new access token.
// The returned RefreshToken must be saved by the caller: Bitrix24 rotates
// it on every exchange.
func (t *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedTokens, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded struct {
		RefreshedTokens
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode oauth response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("oauth refresh failed: %s - %s", decoded.Error, decoded.ErrorDescription)
	}
	if decoded.AccessToken == "" {
		return nil, errors.New("oauth response carried no access token")
	}

	ttl := time.Duration(decoded.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := t.rdb.Set(ctx, t.key, decoded.AccessToken, ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	return &decoded.RefreshedTokens, nil
}
