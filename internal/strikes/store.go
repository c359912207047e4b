package strikes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	apperrors "github.com/Bilolbee/apkban/internal/errors"
)

const topOffendersLimit = 10

// Backend is the durable side of the ledger. Put and Delete are called synchronously
// after every in-memory mutation, while the store lock is held.
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, key Key) error
}

// Quarantiner is implemented by backends able to move an unreadable ledger aside.
type Quarantiner interface {
	Quarantine() (string, error)
}

type Options struct {
	// FailOnCorrupt quarantines an unreadable ledger and fails Open instead of starting empty.
	FailOnCorrupt bool
	Now           func() time.Time
}

// Store is the process-wide violation ledger, held fully in memory.
type Store struct {
	mu      sync.Mutex
	backend Backend
	records map[Key]*Record
	now     func() time.Time
	logger  *log.Entry
}

func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	s := &Store{
		backend: backend,
		records: make(map[Key]*Record),
		now:     opts.Now,
		logger:  log.WithField("component", "strikes"),
	}
	if s.now == nil {
		s.now = time.Now
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		if opts.FailOnCorrupt {
			if q, ok := backend.(Quarantiner); ok {
				moved, qErr := q.Quarantine()
				if qErr != nil {
					s.logger.WithError(qErr).Error("cant quarantine ledger")
				} else {
					s.logger.WithField("path", moved).Warn("ledger quarantined")
				}
			}
			return nil, errors.Wrap(err, "load ledger")
		}
		s.logger.WithError(err).Error("cant load ledger, starting empty")
		return s, nil
	}

	for _, rec := range loaded {
		if rec.Strikes < 1 {
			s.logger.WithField("key", rec.Key.String()).Warn("skipping empty ledger record")
			continue
		}
		rec := rec
		s.records[rec.Key] = &rec
	}
	s.logger.WithField("records", len(s.records)).Info("ledger loaded")
	return s, nil
}

// Increment records one strike and returns the new count. A non-nil error only reports
// a failed flush; the returned count and the in-memory state stay valid.
func (s *Store) Increment(ctx context.Context, key Key, who Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Key: key}
		s.records[key] = rec
	}
	rec.Strikes++
	rec.LastStrike = s.now()
	if who.Username != "" {
		rec.Username = who.Username
	}
	if who.FirstName != "" {
		rec.FirstName = who.FirstName
	}

	entry := s.logger.WithFields(log.Fields{
		"chat_id": key.GroupID,
		"user_id": key.UserID,
		"strikes": rec.Strikes,
	})
	entry.Info("strike recorded")

	if err := s.backend.Put(ctx, *rec); err != nil {
		entry.WithError(err).Warn("cant flush ledger, keeping in-memory state")
		return rec.Strikes, fmt.Errorf("%w: %w", apperrors.ErrStorageWrite, err)
	}
	return rec.Strikes, nil
}

// Get returns the current count, 0 when there is no record.
func (s *Store) Get(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		return rec.Strikes
	}
	return 0
}

func (s *Store) Lookup(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Reset removes the record and reports whether there was one. Like Increment, an error
// only means the removal did not reach durable storage.
func (s *Store) Reset(ctx context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return false, nil
	}
	delete(s.records, key)

	entry := s.logger.WithFields(log.Fields{
		"chat_id": key.GroupID,
		"user_id": key.UserID,
	})
	entry.Info("strikes reset")

	if err := s.backend.Delete(ctx, key); err != nil {
		entry.WithError(err).Warn("cant flush ledger, keeping in-memory state")
		return true, fmt.Errorf("%w: %w", apperrors.ErrStorageWrite, err)
	}
	return true, nil
}

// ListForGroup returns user id to count for one group, unordered.
func (s *Store) ListForGroup(groupID int64) map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[int64]int)
	for key, rec := range s.records {
		if key.GroupID == groupID {
			res[key.UserID] = rec.Strikes
		}
	}
	return res
}

// AggregateStats rolls up all groups. Offenders with equal counts are ordered by group, then user.
func (s *Store) AggregateStats() Stats {
	s.mu.Lock()
	offenders := make([]Offender, 0, len(s.records))
	stats := Stats{TotalUsers: len(s.records)}
	for _, rec := range s.records {
		stats.TotalViolations += rec.Strikes
		offenders = append(offenders, Offender{
			Key:       rec.Key,
			Strikes:   rec.Strikes,
			Username:  rec.Username,
			FirstName: rec.FirstName,
		})
	}
	s.mu.Unlock()

	sort.Slice(offenders, func(i, j int) bool {
		a, b := offenders[i], offenders[j]
		if a.Strikes != b.Strikes {
			return a.Strikes > b.Strikes
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.UserID < b.UserID
	})
	if len(offenders) > topOffendersLimit {
		offenders = offenders[:topOffendersLimit]
	}
	stats.TopOffenders = offenders
	return stats
}
