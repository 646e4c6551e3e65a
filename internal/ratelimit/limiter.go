package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shirikacare/portal/internal/config"
)

const (
	keyPaymentInitiate = "portal:payments:initiate:%s"
	keyVerifyLookup    = "portal:verify:%s"
	keyCallbackLock    = "portal:payments:callback:%s"
)

// RequestLimiter throttles payment initiation per user and public
// verification lookups per client IP. A nil limiter (rate limiting
// disabled) allows everything.
type RequestLimiter struct {
	bucket *TokenBucket
	locker *Locker

	paymentRate  float64
	paymentBurst int
	verifyRate   float64
	verifyBurst  int
}

func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.PaymentInitiateRate <= 0 || limitCfg.PaymentInitiateBurst <= 0 {
		return nil, errors.New("payment initiate rate limit must be positive")
	}
	if limitCfg.VerifyLookupRate <= 0 || limitCfg.VerifyLookupBurst <= 0 {
		return nil, errors.New("verify lookup rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &RequestLimiter{
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		paymentRate:  limitCfg.PaymentInitiateRate,
		paymentBurst: limitCfg.PaymentInitiateBurst,
		verifyRate:   limitCfg.VerifyLookupRate,
		verifyBurst:  limitCfg.VerifyLookupBurst,
	}, nil
}

func (l *RequestLimiter) AllowPaymentInitiate(ctx context.Context, userKey string) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentInitiate, userKey), l.paymentRate, l.paymentBurst)
}

func (l *RequestLimiter) AllowVerifyLookup(ctx context.Context, clientKey string) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyVerifyLookup, clientKey), l.verifyRate, l.verifyBurst)
}

// LockCallback serializes processing for one checkout id so two
// deliveries of the same callback do not interleave. Best effort: a
// disabled limiter grants the lock.
func (l *RequestLimiter) LockCallback(ctx context.Context, checkoutRequestID string, ttl time.Duration) (string, bool, error) {
	if l == nil {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyCallbackLock, checkoutRequestID), ttl)
}

func (l *RequestLimiter) UnlockCallback(ctx context.Context, checkoutRequestID, token string) error {
	if l == nil {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyCallbackLock, checkoutRequestID), token)
}
