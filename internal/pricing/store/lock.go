package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errx "github.com/pricewatch/server/internal/core/error"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Locker serialises writers of one store, across processes.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) (unlock func() error, err error)
}

const defaultPoll = 100 * time.Millisecond

// FileLocker holds the lock by exclusively creating Path and writing a random
// token into it. A lock file older than TTL is considered abandoned and
// removed.
type FileLocker struct {
	Path string
	TTL  time.Duration
	Poll time.Duration
}

type lockFile struct {
	PID   int    `json:"pid"`
	Time  int64  `json:"time"`
	Token string `json:"token"`
}

// lockID tells one lock file apart from a later one at the same path.
type lockID struct {
	token string
	mod   time.Time
}

// Lock implements Locker.
func (l *FileLocker) Lock(ctx context.Context) (func() error, error) {
	poll := l.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	token := uuid.NewString()
	for {
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			err = json.NewEncoder(f).Encode(lockFile{PID: os.Getpid(), Time: time.Now().Unix(), Token: token})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(l.Path)
				return nil, errx.Persistence(fmt.Errorf("write lock %s: %w", l.Path, err))
			}
			return func() error { return l.release(token) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, errx.Persistence(fmt.Errorf("create lock %s: %w", l.Path, err))
		}

		if l.breakStale() {
			continue
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errx.Persistence(fmt.Errorf("wait for lock %s: %w", l.Path, ctx.Err()))
		case <-timer.C:
		}
	}
}

// staleID returns the identity of the current lock file if it has outlived TTL.
func (l *FileLocker) staleID() (lockID, bool) {
	if l.TTL <= 0 {
		return lockID{}, false
	}
	fi, err := os.Stat(l.Path)
	if err != nil || time.Since(fi.ModTime()) < l.TTL {
		return lockID{}, false
	}
	token, _ := readLockToken(l.Path)
	return lockID{token: token, mod: fi.ModTime()}, true
}

// breakStale removes an abandoned lock file and reports whether it did.
// Takeovers are serialised on a second exclusive file and the lock is checked
// again under it, so a waiter never removes a lock another waiter has just
// acquired.
func (l *FileLocker) breakStale() bool {
	seen, ok := l.staleID()
	if !ok {
		return false
	}

	breaker := l.Path + ".break"
	b, err := os.OpenFile(breaker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// a breaker left behind by a crashed waiter expires like the lock
		if fi, err := os.Stat(breaker); err == nil && time.Since(fi.ModTime()) >= l.TTL {
			_ = os.Remove(breaker)
		}
		return false
	}
	_ = b.Close()
	defer os.Remove(breaker)

	cur, ok := l.staleID()
	if !ok || cur != seen {
		return false
	}
	logx.Warn().Str("lock", l.Path).Dur("age", time.Since(cur.mod)).Msg("removing stale lock")
	return os.Remove(l.Path) == nil
}

// release removes the lock file only while it still carries token.
func (l *FileLocker) release(token string) error {
	owner, err := readLockToken(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errx.Persistence(fmt.Errorf("read lock %s: %w", l.Path, err))
	}
	if owner != token {
		logx.Warn().Str("lock", l.Path).Msg("lock was taken over by another writer, leaving it in place")
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errx.Persistence(fmt.Errorf("remove lock %s: %w", l.Path, err))
	}
	return nil
}

func readLockToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var lf lockFile
	if err := json.Unmarshal(b, &lf); err != nil {
		return "", nil // half written or foreign content has no owner
	}
	return lf.Token, nil
}

// redisClient is the part of redis.Cmdable the locker needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker holds the lock as a Redis key with a random token and a TTL,
// so several hosts writing one store serialise too.
type RedisLocker struct {
	rdb  redisClient
	key  string
	ttl  time.Duration
	poll time.Duration
}

// NewRedisLocker locks under pricewatch:lock:<key>. A holder that dies keeps
// the lock for at most ttl.
func NewRedisLocker(rdb redisClient, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl, poll: defaultPoll}
}

func (l *RedisLocker) lockKey() string {
	return fmt.Sprintf("pricewatch:lock:%s", l.key)
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context) (func() error, error) {
	token := uuid.NewString()
	key := l.lockKey()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to acquire redis lock")
			return nil, errx.WrapRedis(err)
		}
		if ok {
			return func() error { return l.release(key, token) }, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errx.Persistence(fmt.Errorf("wait for lock %s: %w", key, ctx.Err()))
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) error {
	// release even when the caller's context is already cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := l.rdb.Eval(ctx, releaseScript, []string{key}, token).Int64()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to release redis lock")
		return errx.WrapRedis(err)
	}
	if n == 0 {
		logx.Warn().Str("key", key).Dur("ttl", l.ttl).Msg("redis lock expired before release")
	}
	return nil
}

var (
	_ Locker = (*FileLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
