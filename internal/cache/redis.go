// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian drains.
const DefaultQueueName = "lampstand_moves"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis opens a client and pings it within five seconds.
func ConnectRedis(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// RecordKind discriminates historian records.
type RecordKind string

const (
	KindMove   RecordKind = "move"
	KindResult RecordKind = "result"
)

// Record is one entry on the historian queue.
type Record struct {
	Kind      RecordKind    `json:"kind"`
	SessionID uuid.UUID     `json:"session_id"`
	Timestamp int64         `json:"timestamp"`
	Move      *MoveRecord   `json:"move,omitempty"`
	Result    *ResultRecord `json:"result,omitempty"`
}

// MoveRecord is a judged move as archived.
type MoveRecord struct {
	MoveID        uuid.UUID      `json:"move_id"`
	Index         int            `json:"index"`
	TurnSeq       int64          `json:"turn_seq"`
	AuthorID      uuid.UUID      `json:"author_id"`
	Card          models.Card    `json:"card"`
	Rationale     string         `json:"rationale"`
	Verdict       models.Verdict `json:"verdict"`
	Feedback      string         `json:"feedback"`
	PointsAwarded int            `json:"points_awarded"`
}

// ResultRecord is the final outcome of a completed session.
type ResultRecord struct {
	Mode      string           `json:"mode"`
	Topic     string           `json:"topic"`
	WinnerID  *uuid.UUID       `json:"winner_id,omitempty"`
	Standings []StandingRecord `json:"standings"`
}

// StandingRecord is one player's final line.
type StandingRecord struct {
	PlayerID           uuid.UUID `json:"player_id"`
	Identity           string    `json:"identity"`
	DisplayName        string    `json:"display_name"`
	Rank               int       `json:"rank"`
	Score              int       `json:"score"`
	InventoryRemaining int       `json:"inventory_remaining"`
}

// Queue is a Redis list carrying Records from the game servers to the historian.
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue binds a queue name on rdb. An empty name uses DefaultQueueName.
func NewQueue(rdb *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultQueueName
	}
	return &Queue{rdb: rdb, name: name}
}

// Name returns the list key.
func (q *Queue) Name() string { return q.name }

// Publish serializes rec and pushes it to the tail of the queue.
func (q *Queue) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns (nil, nil) when
// the wait times out with the queue empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Record, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	// res[0] is the list name, res[1] the payload
	if len(res) < 2 {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return &rec, nil
}
