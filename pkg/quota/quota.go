// Package quota limits how many chat requests a client may make per day.
// Counters reset at local midnight.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultDailyMax is the per-client limit when none is configured.
const DefaultDailyMax = 3

var (
	// ErrExhausted is returned by Consume when the client has no requests left today.
	ErrExhausted = errors.New("daily quota exhausted")
	// ErrInvalidConfig is returned by NewStore when a driver is missing a required option.
	ErrInvalidConfig = errors.New("invalid quota store configuration")
	// ErrUnknownDriver is returned by NewStore for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown quota driver")
)

// Status is a client's quota for the current day.
type Status struct {
	ClientID  string    `json:"client_id"`
	Date      string    `json:"date"`
	Count     int       `json:"count"`
	Max       int       `json:"max"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store tracks daily usage per client.
type Store interface {
	// Check reports the current status without consuming anything.
	Check(ctx context.Context, clientID string) (Status, error)
	// Consume uses one request. The count never exceeds Max; when nothing
	// is left the unchanged status is returned with ErrExhausted.
	Consume(ctx context.Context, clientID string) (Status, error)
	Close() error
}

// Driver names a Store implementation.
type Driver string

const (
	DriverNone   Driver = "none"
	DriverMemory Driver = "memory"
	DriverFile   Driver = "file"
	DriverRedis  Driver = "redis"
)

// Option configures NewStore.
type Option func(*options)

type options struct {
	dailyMax    int
	path        string
	redisAddr   string
	redisClient *redis.Client
	now         func() time.Time
	logger      *zap.SugaredLogger
}

// WithDailyMax sets the per-client daily limit.
func WithDailyMax(n int) Option {
	return func(o *options) { o.dailyMax = n }
}

// WithPath sets the JSON file used by the file driver.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithRedisAddr makes the redis driver dial addr.
func WithRedisAddr(addr string) Option {
	return func(o *options) { o.redisAddr = addr }
}

// WithRedisClient hands the redis driver an existing client.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redisClient = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// NewStore creates the Store for driver. DriverNone (or "") yields a nil
// Store, meaning quotas are not enforced.
func NewStore(driver Driver, opts ...Option) (Store, error) {
	o := &options{
		dailyMax: DefaultDailyMax,
		now:      time.Now,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dailyMax <= 0 {
		return nil, ErrInvalidConfig
	}

	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return newMemoryStore(o), nil
	case DriverFile:
		if o.path == "" {
			return nil, ErrInvalidConfig
		}
		s, err := newFileStore(o)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		client := o.redisClient
		if client == nil {
			if o.redisAddr == "" {
				return nil, ErrInvalidConfig
			}
			client = redis.NewClient(&redis.Options{Addr: o.redisAddr})
		}
		return newRedisStore(client, o), nil
	default:
		return nil, ErrUnknownDriver
	}
}

// day returns the counter key date for t and the next local midnight.
func day(t time.Time) (string, time.Time) {
	y, m, d := t.Date()
	return t.Format(time.DateOnly), time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func newStatus(clientID string, now time.Time, count, limit int) Status {
	date, reset := day(now)
	return Status{
		ClientID:  clientID,
		Date:      date,
		Count:     count,
		Max:       limit,
		Remaining: max(limit-count, 0),
		ResetAt:   reset,
	}
}
