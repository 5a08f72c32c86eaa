package zone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"fieldsync-agent/internal/backend"
	"fieldsync-agent/internal/store"
)

var (
	ErrUnknownCode = errors.New("zone code not registered")
	ErrInvalidCode = errors.New("invalid zone code")
	ErrUnavailable = errors.New("zone validation unavailable")
)

// CodeValidator resolves a zone code remotely.
type CodeValidator interface {
	ValidateZoneCode(ctx context.Context, code string, tenantID int64) (*backend.Zone, error)
}

// Resolver turns scanned zone codes into numeric zone ids.
// Resolved codes are kept in the durable store so they can be reused
// while offline.
type Resolver struct {
	validator CodeValidator
	store     store.Store
	mu        sync.Mutex
}

// NewResolver creates a resolver.
func NewResolver(v CodeValidator, s store.Store) *Resolver {
	return &Resolver{validator: v, store: s}
}

func cacheKey(code string, tenantID int64) string {
	return fmt.Sprintf("%d:%s", tenantID, strings.ToUpper(code))
}

// Resolve returns the zone id for codeOrID. Numeric input is returned as is.
func (r *Resolver) Resolve(ctx context.Context, codeOrID string, tenantID int64) (int64, error) {
	code := strings.TrimSpace(codeOrID)
	if code == "" {
		return 0, ErrInvalidCode
	}
	if id, err := strconv.ParseInt(code, 10, 64); err == nil {
		return id, nil
	}

	key := cacheKey(code, tenantID)
	if id, ok := r.cached(ctx, key); ok {
		return id, nil
	}

	zone, err := r.validator.ValidateZoneCode(ctx, code, tenantID)
	if err != nil {
		switch backend.StatusCode(err) {
		case http.StatusNotFound:
			return 0, fmt.Errorf("%w: %s", ErrUnknownCode, code)
		case http.StatusBadRequest:
			return 0, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.remember(ctx, key, zone.ZoneID)
	return zone.ZoneID, nil
}

func (r *Resolver) load(ctx context.Context) map[string]int64 {
	cache := map[string]int64{}
	if _, err := store.GetJSON(ctx, r.store, store.KeyZoneCodeCache, &cache); err != nil {
		log.Printf("[ZoneResolver] Failed to read cache: %v", err)
	}
	return cache
}

func (r *Resolver) cached(ctx context.Context, key string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.load(ctx)[key]
	return id, ok
}

func (r *Resolver) remember(ctx context.Context, key string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache := r.load(ctx)
	cache[key] = id
	if err := store.SetJSON(ctx, r.store, store.KeyZoneCodeCache, cache); err != nil {
		log.Printf("[ZoneResolver] Failed to write cache: %v", err)
	}
}
