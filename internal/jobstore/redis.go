package jobstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"jobtracker/internal/models"
)

var _ Store = (*RedisStore)(nil)

// ErrReservedJobID is returned by RedisStore.CreateJob for ids that would collide
// with another job's log or pause key.
var ErrReservedJobID = errors.New("jobstore/redis: job id ends in a reserved key suffix")

func reservedJobID(jobID string) bool {
	return strings.HasSuffix(jobID, ":log") || strings.HasSuffix(jobID, ":paused")
}

// RedisStore persists job state in Redis. Each job owns a hash with its scalar
// fields, a list holding the log and a string key holding the pause flag ("0"/"1").
//
// The log and flag keys extend the hash key with ":log" and ":paused", so ids ending
// in either suffix are refused; they would alias another job's keys.
//
// Counter merges read the hash field, merge client side and write it back; two
// writers updating the same job race and the last one wins.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore connects to rawURL and pings the server before returning. Connection
// problems come back as *InitError with an actionable diagnostic.
func NewRedisStore(ctx context.Context, rawURL string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, &InitError{Backend: "redis", URL: rawURL, Cause: CauseInvalidURL, Err: err}
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &InitError{Backend: "redis", URL: rawURL, Cause: classifyRedisError(err), Err: err}
	}
	return &RedisStore{client: client, opts: buildOptions(opts)}, nil
}

// classifyRedisError maps a failed handshake onto the cause an operator can act on.
func classifyRedisError(err error) InitCause {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOAUTH"),
		strings.Contains(msg, "WRONGPASS"),
		strings.Contains(msg, "invalid password"),
		strings.Contains(msg, "invalid username-password"):
		return CauseAuth
	case strings.Contains(msg, "DB index"),
		strings.Contains(msg, "SELECT is not allowed"):
		return CauseDatabaseIndex
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return CauseUnreachable
	}
	return CauseUnknown
}

func (s *RedisStore) jobKey(jobID string) string   { return s.opts.namespace + ":job:" + jobID }
func (s *RedisStore) logKey(jobID string) string   { return s.jobKey(jobID) + ":log" }
func (s *RedisStore) pauseKey(jobID string) string { return s.jobKey(jobID) + ":paused" }

func (s *RedisStore) stamp() string {
	return strconv.FormatFloat(s.opts.stamp(), 'f', -1, 64)
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) requireJob(ctx context.Context, jobID string) error {
	if reservedJobID(jobID) {
		return unknownJob(jobID)
	}
	n, err := s.client.Exists(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("jobstore/redis: check job: %w", err)
	}
	if n == 0 {
		return unknownJob(jobID)
	}
	return nil
}

func (s *RedisStore) CreateJob(ctx context.Context, jobID string, p models.CreateParams) error {
	if reservedJobID(jobID) {
		return fmt.Errorf("%w: %s", ErrReservedJobID, jobID)
	}
	meta, err := normalize(p.Metadata)
	if err != nil {
		return err
	}
	metaJSON, err := encodeMap(meta)
	if err != nil {
		return err
	}
	now := s.stamp()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID), s.logKey(jobID))
	pipe.HSet(ctx, s.jobKey(jobID), map[string]any{
		"status":      string(models.StatusQueued),
		"error":       "",
		"description": p.Description,
		"metadata":    metaJSON,
		"counters":    "{}",
		"created_at":  now,
		"updated_at":  now,
	})
	pipe.Set(ctx, s.pauseKey(jobID), "0", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		if isRedisReply(err) {
			return fmt.Errorf("jobstore/redis: create job (the URL must select a database the server allows, usually /0): %w", err)
		}
		return fmt.Errorf("jobstore/redis: create job: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendLog(ctx context.Context, jobID, message string) error {
	if err := s.requireJob(ctx, jobID); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.logKey(jobID), message)
	pipe.LTrim(ctx, s.logKey(jobID), int64(-s.opts.logLimit), -1)
	pipe.HSet(ctx, s.jobKey(jobID), "updated_at", s.stamp())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobstore/redis: append log: %w", err)
	}
	return nil
}

func (s *RedisStore) UpdateCounters(ctx context.Context, jobID string, values map[string]any) error {
	vals, err := normalize(values)
	if err != nil {
		return err
	}
	if reservedJobID(jobID) {
		return unknownJob(jobID)
	}
	raw, err := s.client.HGet(ctx, s.jobKey(jobID), "counters").Result()
	if errors.Is(err, redis.Nil) {
		return unknownJob(jobID)
	}
	if err != nil {
		return fmt.Errorf("jobstore/redis: read counters: %w", err)
	}
	encoded, err := encodeMap(merge(decodeMap(raw), vals))
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID), "counters", encoded, "updated_at", s.stamp()).Err(); err != nil {
		return fmt.Errorf("jobstore/redis: write counters: %w", err)
	}
	return nil
}

func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status models.Status, errMsg *string) error {
	if err := s.requireJob(ctx, jobID); err != nil {
		return err
	}
	fields := []any{"status", string(status), "updated_at", s.stamp()}
	if errMsg != nil {
		fields = append(fields, "error", *errMsg)
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID), fields...).Err(); err != nil {
		return fmt.Errorf("jobstore/redis: set status: %w", err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (models.Snapshot, bool, error) {
	if reservedJobID(jobID) {
		return models.Snapshot{}, false, nil
	}
	pipe := s.client.TxPipeline()
	hash := pipe.HGetAll(ctx, s.jobKey(jobID))
	entries := pipe.LRange(ctx, s.logKey(jobID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("jobstore/redis: get status: %w", err)
	}
	data := hash.Val()
	if len(data) == 0 {
		return models.Snapshot{}, false, nil
	}
	status := data["status"]
	if status == "" {
		status = "unknown"
	}
	log := entries.Val()
	if log == nil {
		log = []string{}
	}
	return models.Snapshot{
		JobID:       jobID,
		Status:      models.Status(status),
		Log:         log,
		Counters:    decodeMap(data["counters"]),
		Error:       emptyToNil(data["error"]),
		Description: emptyToNil(data["description"]),
		Metadata:    decodeMap(data["metadata"]),
		CreatedAt:   parseStamp(data["created_at"]),
		UpdatedAt:   parseStamp(data["updated_at"]),
	}, true, nil
}

func (s *RedisStore) Pause(ctx context.Context, jobID string) (bool, error) {
	if reservedJobID(jobID) {
		return false, nil
	}
	status, err := s.client.HGet(ctx, s.jobKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobstore/redis: read status: %w", err)
	}
	if models.Status(status).Terminal() {
		return false, nil
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.pauseKey(jobID), "1", 0)
	pipe.HSet(ctx, s.jobKey(jobID), "status", string(models.StatusPaused), "updated_at", s.stamp())
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("jobstore/redis: pause: %w", err)
	}
	return true, nil
}

func (s *RedisStore) Resume(ctx context.Context, jobID string) (bool, error) {
	if reservedJobID(jobID) {
		return false, nil
	}
	status, err := s.client.HGet(ctx, s.jobKey(jobID), "status").Result()
	if errors.Is(err, redis.Nil) {
		// The hash may exist without a status field only if written by hand.
		if n, _ := s.client.Exists(ctx, s.jobKey(jobID)).Result(); n == 0 {
			return false, nil
		}
	} else if err != nil {
		return false, fmt.Errorf("jobstore/redis: read status: %w", err)
	}
	fields := []any{"updated_at", s.stamp()}
	if models.Status(status) == models.StatusPaused {
		fields = append(fields, "status", string(models.StatusRunning))
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.pauseKey(jobID), "0", 0)
	pipe.HSet(ctx, s.jobKey(jobID), fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("jobstore/redis: resume: %w", err)
	}
	return true, nil
}

// WaitIfPaused polls the flag key; Redis offers no per-key blocking wait usable here.
func (s *RedisStore) WaitIfPaused(ctx context.Context, jobID string) error {
	if reservedJobID(jobID) {
		return unknownJob(jobID)
	}
	return pollUntilClear(ctx, s.opts.pollInterval, func(ctx context.Context) (bool, error) {
		pipe := s.client.Pipeline()
		exists := pipe.Exists(ctx, s.jobKey(jobID))
		flag := pipe.Get(ctx, s.pauseKey(jobID))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("jobstore/redis: read pause flag: %w", err)
		}
		if exists.Val() == 0 {
			return false, unknownJob(jobID)
		}
		return flag.Val() == "1", nil
	})
}

func parseStamp(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func isRedisReply(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr)
}
