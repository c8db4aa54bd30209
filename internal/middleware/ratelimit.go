package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kernelletter/internal/model"
)

// Quota は1分あたりに許容するリクエスト数。バーストも同じ値とする。
type Quota struct {
	PerMinute int
}

func (q Quota) limit() rate.Limit {
	return rate.Limit(float64(q.PerMinute) / 60.0)
}

// retryAfterSeconds はトークンが1つ補充されるまでの秒数（切り上げ、最低1秒）。
func (q Quota) retryAfterSeconds() int {
	return max(int(math.Ceil(60.0/float64(q.PerMinute))), 1)
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	General    Quota // 認証済みAPI全般（RATE_LIMIT_GENERAL）
	LetterSend Quota // 手紙送信（RATE_LIMIT_LETTER_SEND）

	// IdleTTL を過ぎて使われていないユーザーのバケットは破棄する。
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、手紙送信 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// 0以下の値は1として扱う。
func NewRateLimiterConfig(generalPerMinute, letterSendPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		General:    Quota{PerMinute: max(generalPerMinute, 1)},
		LetterSend: Quota{PerMinute: max(letterSendPerMinute, 1)},
		IdleTTL:    10 * time.Minute,
	}
}

// userBuckets はユーザーIDごとのトークンバケットの集合。
type userBuckets struct {
	kind  string
	quota Quota

	mu      sync.Mutex
	buckets map[int64]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserBuckets(kind string, quota Quota) *userBuckets {
	return &userBuckets{
		kind:    kind,
		quota:   quota,
		buckets: make(map[int64]*bucket),
	}
}

// allow はユーザーのバケットから1トークン消費できればtrueを返す。
func (b *userBuckets) allow(userID int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.buckets[userID]
	if !ok {
		e = &bucket{limiter: rate.NewLimiter(b.quota.limit(), b.quota.PerMinute)}
		b.buckets[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evictIdle はttlより長く使われていないバケットを削除し、削除数を返す。
func (b *userBuckets) evictIdle(now time.Time, ttl time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for userID, e := range b.buckets {
		if now.Sub(e.lastSeen) > ttl {
			delete(b.buckets, userID)
			n++
		}
	}
	return n
}

func (b *userBuckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と手紙送信の2つのバケットは独立して消費される。
type RateLimiter struct {
	general    *userBuckets
	letterSend *userBuckets
	idleTTL    time.Duration

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成し、アイドルバケットの破棄を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return newRateLimiter(config, time.Now)
}

func newRateLimiter(config RateLimiterConfig, now func() time.Time) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	config.General.PerMinute = max(config.General.PerMinute, 1)
	config.LetterSend.PerMinute = max(config.LetterSend.PerMinute, 1)
	rl := &RateLimiter{
		general:    newUserBuckets("general", config.General),
		letterSend: newUserBuckets("letter_send", config.LetterSend),
		idleTTL:    config.IdleTTL,
		now:        now,
		stopCh:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Stop はバックグラウンドの破棄処理を停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPI全般のレート制限ミドルウェアを返す。
// RequireAuthenticatedの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// LetterSendMiddleware は手紙送信（POST /Letter）専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) LetterSendMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.letterSend)
}

func (rl *RateLimiter) middleware(b *userBuckets) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
				return
			}

			if !b.allow(userID, rl.now()) {
				retryAfter := b.quota.retryAfterSeconds()
				slog.Warn("rate limit exceeded",
					slog.Int64("user_id", userID),
					slog.String("limit_type", b.kind),
					slog.Int("retry_after_sec", retryAfter),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteError(w, model.NewRateLimitExceededError(retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	now := rl.now()
	n := rl.general.evictIdle(now, rl.idleTTL) + rl.letterSend.evictIdle(now, rl.idleTTL)
	if n > 0 {
		slog.Debug("evicted idle rate limit buckets", slog.Int("count", n))
	}
}
