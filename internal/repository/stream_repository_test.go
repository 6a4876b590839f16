package repository

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHook captures commands instead of sending them to a server.
type recordingHook struct {
	mu   sync.Mutex
	cmds [][]any
}

func (h *recordingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *recordingHook) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		h.record(cmd)
		return nil
	}
}

func (h *recordingHook) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			h.record(cmd)
		}
		return nil
	}
}

func (h *recordingHook) record(cmd redis.Cmder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd.Args())
}

func newRecordedStream(ttl time.Duration) (*StreamRepository, *recordingHook) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	hook := &recordingHook{}
	rdb.AddHook(hook)
	return NewStreamRepository(rdb, ttl), hook
}

func TestStreamRepository_SaveAnswer(t *testing.T) {
	ev := model.AutosaveEvent{SubmissionID: "sub-1", UserID: 7, QuestionID: "q1", Timestamp: 1}
	key := config.CacheKey.SubmissionAutosaveKey("sub-1")

	tests := []struct {
		name     string
		value    string
		ttl      time.Duration
		expected []string
	}{
		{name: "answer with expiry", value: "B", ttl: 4 * time.Hour, expected: []string{"hset", "expire", "rpush"}},
		{name: "cleared answer is kept as empty", value: "", ttl: 4 * time.Hour, expected: []string{"hset", "expire", "rpush"}},
		{name: "zero ttl never expires", value: "B", expected: []string{"hset", "rpush"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, hook := newRecordedStream(tt.ttl)
			ev := ev
			ev.Value = tt.value

			require.NoError(t, repo.SaveAnswer(context.Background(), ev))

			names := make([]string, 0, len(hook.cmds))
			for _, args := range hook.cmds {
				names = append(names, args[0].(string))
			}
			assert.Equal(t, tt.expected, names)
			assert.Equal(t, []any{"hset", key, "q1", tt.value}, hook.cmds[0])

			if tt.ttl > 0 {
				assert.Equal(t, []any{"expire", key, int64(tt.ttl / time.Second)}, hook.cmds[1])
			}

			queued := hook.cmds[len(hook.cmds)-1]
			assert.Equal(t, config.WorkerKey.PersistAutosaveQueue, queued[1])
			var got model.AutosaveEvent
			require.NoError(t, json.Unmarshal(queued[2].([]byte), &got))
			assert.Equal(t, ev, got)
		})
	}
}
