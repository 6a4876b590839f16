package examclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// ErrNoSnapshot is returned by Load when nothing is stored for the attempt.
var ErrNoSnapshot = errors.New("no local snapshot")

// Snapshot is the device-local copy of an in-progress attempt.
type Snapshot struct {
	SubmissionID     uuid.UUID           `json:"submission_id"`
	Answers          map[string]string   `json:"answers"`
	Index            int                 `json:"index"`
	ViolationCount   int                 `json:"violation_count"`
	Phase            model.Phase         `json:"phase"`
	M1Deadline       time.Time           `json:"m1_deadline"`
	M2Deadline       time.Time           `json:"m2_deadline"`
	Module2StartedAt *time.Time          `json:"module2_started_at,omitempty"`
	Marked           []string            `json:"marked,omitempty"`
	Eliminated       map[string][]string `json:"eliminated,omitempty"`
	SavedAt          time.Time           `json:"saved_at"`
}

// LocalCache keeps attempt snapshots in an embedded BadgerDB.
type LocalCache struct {
	db *badger.DB
}

// OpenLocalCache opens the store under dir. An empty dir keeps everything in
// memory.
func OpenLocalCache(dir string, log zerolog.Logger) (*LocalCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log.With().Str("component", "local_cache").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	return &LocalCache{db: db}, nil
}

// Close releases the store.
func (c *LocalCache) Close() error {
	return c.db.Close()
}

func snapshotKey(userID int, testID uuid.UUID) []byte {
	return fmt.Appendf(nil, "attempt/%d/%s", userID, testID)
}

// Save overwrites the snapshot for (userID, testID).
func (c *LocalCache) Save(userID int, testID uuid.UUID, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	txn := c.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Set(snapshotKey(userID, testID), data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return txn.Commit()
}

// Load reads the snapshot for (userID, testID).
func (c *LocalCache) Load(userID int, testID uuid.UUID) (*Snapshot, error) {
	var snap Snapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(userID, testID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &snap, nil
}

// Clear removes the snapshot for (userID, testID). Missing keys are fine.
func (c *LocalCache) Clear(userID int, testID uuid.UUID) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(userID, testID))
	})
}

// badgerLogger routes BadgerDB's internal logs through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(format, args...)
}
