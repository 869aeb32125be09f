package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix = "transcript:"
	transcriptTTL       = 24 * time.Hour
)

// TranscriptStore mirrors live session turns to Redis so that in-memory
// sessions can be rehydrated after a process restart. The in-memory Store
// stays authoritative; mirror failures are reported but never block the
// conversation.
type TranscriptStore struct {
	redis    *redis.Client
	tracer   trace.Tracer
	maxTurns int64
}

// NewTranscriptStore creates a transcript mirror. A nil client yields a nil
// store, and all methods on a nil store are no-ops.
func NewTranscriptStore(redisClient *redis.Client) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	return &TranscriptStore{
		redis:    redisClient,
		tracer:   otel.Tracer("leadrelay.internal.session.transcript"),
		maxTurns: 500,
	}
}

// Append mirrors one turn onto the correspondent's transcript list.
func (s *TranscriptStore) Append(ctx context.Context, correspondentID string, turn Turn) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if correspondentID == "" {
		return errors.New("session: transcript correspondentID required")
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("session: marshal transcript turn: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "session.transcript.append")
	defer span.End()

	key := transcriptKey(correspondentID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, transcriptTTL)
	if s.maxTurns > 0 {
		pipe.LTrim(ctx, key, -s.maxTurns, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: append transcript turn: %w", err)
	}
	return nil
}

// List returns the mirrored turns for a correspondent, oldest first. A limit
// of 0 returns everything retained.
func (s *TranscriptStore) List(ctx context.Context, correspondentID string, limit int64) ([]Turn, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if correspondentID == "" {
		return nil, errors.New("session: transcript correspondentID required")
	}

	ctx, span := s.tracer.Start(ctx, "session.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, transcriptKey(correspondentID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []Turn{}, nil
		}
		return nil, fmt.Errorf("session: list transcript: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			span.RecordError(err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func transcriptKey(correspondentID string) string {
	return transcriptKeyPrefix + correspondentID
}
