package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"talkroom/internal/models"
	"talkroom/internal/room"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

type RoomKeyType struct{}
type SenderKeyType struct{}

const AdminKeyHeader = "X-Admin-Key"

func AllowCors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RoomLoader resolves the {channel} url parameter into its room.
func RoomLoader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rm, err := registry.Room(chi.URLParam(r, "channel"))
		if err != nil {
			writeFailure(w, "room", err, false)
			return
		}

		ctx := context.WithValue(r.Context(), RoomKeyType{}, rm)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SenderLoader pins the sender from the token cookie when there is a valid
// one. Requests without it continue as an anonymous reader.
func SenderLoader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(tokenCookieName)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				sugar.Debug(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		token, err := issuer.VerifyToken(cookie.Value)
		if err != nil {
			sugar.Debug(err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), SenderKeyType{}, token.Sender)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSender rejects requests SenderLoader could not pin a sender for.
func RequireSender(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := senderFrom(r); !ok {
			writeFailure(w, "auth", room.NewError(room.KindUnauthorized, "no valid sender token was provided", nil), false)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func AdminVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(AdminKeyHeader)
		if adminKeyHash == "" || key == "" {
			writeFailure(w, "admin", room.NewError(room.KindUnauthorized, "admin key required", nil), false)
			return
		}

		err := bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(key))
		if err != nil {
			sugar.Debug(err)
			writeFailure(w, "admin", room.NewError(room.KindForbidden, "wrong admin key", nil), false)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one limiter per key. Limiters unused for longer than
// ttl are dropped by a cleanup loop that starts with the first lookup.
type limiterPool struct {
	mutex sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int

	ttl           time.Duration
	cleanupPeriod time.Duration
	startCleanup  sync.Once
	stopOnce      sync.Once
	stop          chan struct{}
	now           func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &limiterPool{
		m:             make(map[string]*limiterEntry),
		rps:           rps,
		burst:         burst,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() {
		go p.cleanupLoop()
	})

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.limiter
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{limiter: l, lastSeen: p.now()}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.m)
}

// evictIdle drops limiters last used before cutoff and returns how many.
func (p *limiterPool) evictIdle(cutoff time.Time) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	evicted := 0
	for key, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, key)
			evicted++
		}
	}
	return evicted
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.evictIdle(p.now().Add(-p.ttl)); n > 0 {
				sugar.Debugf("Evicted %d idle rate limiters", n)
			}
		case <-p.stop:
			return
		}
	}
}

func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// SubmitLimiter throttles message creation per sender.
func SubmitLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sender, _ := senderFrom(r)
		if !limiters.Allow(strconv.FormatInt(sender.ID, 10)) {
			rm, _ := roomFrom(r)
			writeFailure(w, "create", room.NewError(room.KindRateLimited, "too many submissions", nil), rm != nil && rm.Config().Debug)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GuestLimiter throttles identity minting per remote address, otherwise a
// fresh sender id per request would get around SubmitLimiter.
func GuestLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !guestLimiters.Allow(remoteHost(r)) {
			writeFailure(w, "guest", room.NewError(room.KindRateLimited, "too many identities requested", nil), false)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func senderFrom(r *http.Request) (models.Author, bool) {
	sender, ok := r.Context().Value(SenderKeyType{}).(models.Author)
	return sender, ok
}

func roomFrom(r *http.Request) (*room.Room, bool) {
	rm, ok := r.Context().Value(RoomKeyType{}).(*room.Room)
	return rm, ok
}
