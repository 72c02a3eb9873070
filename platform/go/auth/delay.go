package auth

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	minFailureDelay = 25 * time.Millisecond
	maxFailureDelay = 425 * time.Millisecond
)

// Delay sleeps for a random 25-425ms. Every authentication failure path calls it so
// response times do not reveal which check failed.
func Delay(ctx context.Context) error {
	return sleep(ctx, FailureDelay())
}

// FailureDelay returns a random duration in [25ms, 425ms].
func FailureDelay() time.Duration {
	return minFailureDelay + rand.N(maxFailureDelay-minFailureDelay+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
