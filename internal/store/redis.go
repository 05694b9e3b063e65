// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPrefix namespaces every key and channel written by RedisStore.
const DefaultPrefix = "lampstand"

// RedisStore keeps each session as three keys:
//
//	{prefix}:session:{id}          JSON session document
//	{prefix}:session:{id}:players  hash of player id -> JSON player
//	{prefix}:session:{id}:moves    append-only list of JSON moves
//
// and publishes commit notifications on {prefix}:events:{id}.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore wraps an already connected client. A zero ttl disables key expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: DefaultPrefix,
		ttl:    ttl,
		tracer: otel.Tracer("github.com/jason-s-yu/lampstand/internal/store"),
	}
}

func (s *RedisStore) sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) playersKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s:players", s.prefix, id)
}

func (s *RedisStore) movesKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s:moves", s.prefix, id)
}

// Channel returns the pub/sub channel carrying notifications for a session.
func (s *RedisStore) Channel(id uuid.UUID) string {
	return fmt.Sprintf("%s:events:%s", s.prefix, id)
}

func (s *RedisStore) Create(ctx context.Context, snap *models.Snapshot) error {
	id := snap.Session.ID
	key := s.sessionKey(id)

	snap.Session.Version = 1
	change := Change{Session: snap.Session, Players: snap.Players, Moves: snap.Moves, Event: EventCreated}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		return s.write(ctx, tx, change)
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrExists
	}
	return err
}

func (s *RedisStore) Load(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	var (
		sessCmd    *redis.StringCmd
		playersCmd *redis.MapStringStringCmd
		movesCmd   *redis.StringSliceCmd
	)
	// MULTI/EXEC so the three reads observe one commit.
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		sessCmd = pipe.Get(ctx, s.sessionKey(id))
		playersCmd = pipe.HGetAll(ctx, s.playersKey(id))
		movesCmd = pipe.LRange(ctx, s.movesKey(id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	raw, err := sessCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	snap := &models.Snapshot{}
	if err := json.Unmarshal(raw, &snap.Session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	players := playersCmd.Val()
	snap.Players = make([]models.Player, 0, len(snap.Session.PlayerOrder))
	for _, pid := range snap.Session.PlayerOrder {
		pr, ok := players[pid.String()]
		if !ok {
			return nil, fmt.Errorf("session %s: player %s missing from roster", id, pid)
		}
		var p models.Player
		if err := json.Unmarshal([]byte(pr), &p); err != nil {
			return nil, fmt.Errorf("decode player %s: %w", pid, err)
		}
		snap.Players = append(snap.Players, p)
	}

	moves := movesCmd.Val()
	snap.Moves = make([]models.Move, 0, len(moves))
	for i, mr := range moves {
		var m models.Move
		if err := json.Unmarshal([]byte(mr), &m); err != nil {
			return nil, fmt.Errorf("decode move %d of %s: %w", i, id, err)
		}
		snap.Moves = append(snap.Moves, m)
	}
	return snap, nil
}

func (s *RedisStore) Commit(ctx context.Context, expected int64, change Change) error {
	id := change.Session.ID
	ctx, span := s.tracer.Start(ctx, "store.Commit", trace.WithAttributes(
		attribute.String("session.id", id.String()),
		attribute.Int64("session.version", expected),
	))
	defer span.End()

	key := s.sessionKey(id)
	change.Session.Version = expected + 1

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		var current models.Session
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		if current.Version != expected {
			return ErrVersionConflict
		}
		return s.write(ctx, tx, change)
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrVersionConflict
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// write queues the whole change plus its notification in one MULTI block.
func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, change Change) error {
	id := change.Session.ID
	doc, err := json.Marshal(change.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	fields := make(map[string]interface{}, len(change.Players))
	for _, p := range change.Players {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode player %s: %w", p.ID, err)
		}
		fields[p.ID.String()] = b
	}

	moves := make([]interface{}, 0, len(change.Moves))
	for _, m := range change.Moves {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode move %s: %w", m.ID, err)
		}
		moves = append(moves, b)
	}

	note, err := json.Marshal(Notification{SessionID: id, Version: change.Session.Version, Event: change.Event})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(id), doc, s.ttl)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.playersKey(id), fields)
		}
		if len(moves) > 0 {
			pipe.RPush(ctx, s.movesKey(id), moves...)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, s.playersKey(id), s.ttl)
			pipe.Expire(ctx, s.movesKey(id), s.ttl)
		}
		pipe.Publish(ctx, s.Channel(id), note)
		return nil
	})
	return err
}

func (s *RedisStore) Subscribe(ctx context.Context, id uuid.UUID) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, s.Channel(id))
	// wait for the subscribe ack so no commit after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan Notification, 16)}
	go sub.pump(ctx)
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Notification
	once sync.Once
}

func (r *redisSubscription) C() <-chan Notification { return r.out }

func (r *redisSubscription) Close() error {
	var err error
	r.once.Do(func() { err = r.ps.Close() })
	return err
}

func (r *redisSubscription) pump(ctx context.Context) {
	defer close(r.out)
	defer r.Close()

	msgs := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				continue
			}
			select {
			case r.out <- n:
			case <-ctx.Done():
				return
			}
		}
	}
}
