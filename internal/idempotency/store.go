// Package idempotency guards order creation against client retries.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const Header = "Idempotency-Key"

const pending = "pending"

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 255

var ErrInvalidKey = errors.New("invalid idempotency key")

type State int

const (
	// Started means the caller owns the key and must Complete or Release it.
	Started State = iota
	// InFlight means another request holding the key has not finished.
	InFlight
	// Completed means the key already produced an order.
	Completed
	// Mismatched means the key was first used with a different request body.
	Mismatched
)

type Reservation struct {
	State   State
	OrderID int64
}

// Store keeps one Redis string per key: "pending:<fingerprint>" while the
// request runs, "<order id>:<fingerprint>" once it produced an order.
type Store struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewStore keeps completed keys for ttl. A pending key lives for pendingTTL,
// so a request that dies without settling frees its key; zero means ttl.
func NewStore(client *redis.Client, ttl, pendingTTL time.Duration) *Store {
	if pendingTTL <= 0 || (ttl > 0 && pendingTTL > ttl) {
		pendingTTL = ttl
	}
	return &Store{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

// Normalize trims a header value and rejects keys that cannot be stored.
func Normalize(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" || len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	return key, nil
}

// Fingerprint hashes the JSON encoding of a request body.
func Fingerprint(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func redisKey(buyerID int64, key string) string {
	return fmt.Sprintf("idem:%d:%s", buyerID, key)
}

// Begin claims key for buyerID, or reports who already holds it.
func (s *Store) Begin(ctx context.Context, buyerID int64, key, fingerprint string) (Reservation, error) {
	k := redisKey(buyerID, key)

	ok, err := s.client.SetNX(ctx, k, pending+":"+fingerprint, s.pendingTTL).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return Reservation{State: Started}, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Begin(ctx, buyerID, key, fingerprint)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	holder, stored, found := strings.Cut(val, ":")
	if !found {
		return Reservation{}, fmt.Errorf("corrupt idempotency key %q", k)
	}
	if stored != fingerprint {
		return Reservation{State: Mismatched}, nil
	}
	if holder == pending {
		return Reservation{State: InFlight}, nil
	}

	orderID, err := strconv.ParseInt(holder, 10, 64)
	if err != nil {
		return Reservation{}, fmt.Errorf("corrupt idempotency key %q: %w", k, err)
	}
	return Reservation{State: Completed, OrderID: orderID}, nil
}

// Complete records the order a started key produced and keeps it for the
// full ttl.
func (s *Store) Complete(ctx context.Context, buyerID int64, key, fingerprint string, orderID int64) error {
	val := strconv.FormatInt(orderID, 10) + ":" + fingerprint
	if err := s.client.Set(ctx, redisKey(buyerID, key), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

// Release frees a started key so the request can be retried.
func (s *Store) Release(ctx context.Context, buyerID int64, key string) error {
	if err := s.client.Del(ctx, redisKey(buyerID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
