package auth

import (
	"sync"
	"time"
)

// throttle はクライアントごとのログイン失敗を数え、上限に達したら一定時間ロックします。
type throttle struct {
	limit   int
	window  time.Duration
	lockFor time.Duration

	mu      sync.Mutex
	entries map[string]*failures
}

type failures struct {
	count       int
	since       time.Time
	lockedUntil time.Time
}

func newThrottle(limit int, window, lockFor time.Duration) *throttle {
	return &throttle{
		limit:   limit,
		window:  window,
		lockFor: lockFor,
		entries: make(map[string]*failures),
	}
}

// retryAfter はロック中なら残り時間を返します。期限の過ぎた記録はここで捨てます。
func (t *throttle) retryAfter(key string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.entries[key]
	if !ok {
		return 0
	}
	if now.Before(f.lockedUntil) {
		return f.lockedUntil.Sub(now)
	}
	if now.Sub(f.since) > t.window {
		delete(t.entries, key)
	}
	return 0
}

// fail は失敗を1回記録し、ロックまでの残り回数を返します。
func (t *throttle) fail(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.entries[key]
	if !ok || now.Sub(f.since) > t.window || (!f.lockedUntil.IsZero() && !now.Before(f.lockedUntil)) {
		f = &failures{since: now}
		t.entries[key] = f
	}
	f.count++
	if f.count >= t.limit {
		f.count = t.limit
		f.lockedUntil = now.Add(t.lockFor)
	}
	return t.limit - f.count
}

func (t *throttle) clear(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}
