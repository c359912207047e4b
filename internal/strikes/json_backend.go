package strikes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	apperrors "github.com/Bilolbee/apkban/internal/errors"
)

// legacyTimeLayout is the zone-less ISO-8601 form older ledgers were written with.
const legacyTimeLayout = "2006-01-02T15:04:05.999999999"

type jsonRecord struct {
	Strikes    int     `json:"strikes"`
	LastStrike *string `json:"last_strike"`
	Username   *string `json:"username"`
	FirstName  *string `json:"first_name"`
}

// JSONFile persists the ledger as one JSON object keyed by "<group_id>_<user_id>".
// Every Put or Delete rewrites the whole file.
type JSONFile struct {
	path   string
	mu     sync.Mutex
	mirror map[Key]Record
	logger *log.Entry
}

func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger dir: %w", err)
	}
	return &JSONFile{
		path:   path,
		mirror: make(map[Key]Record),
		logger: log.WithFields(log.Fields{"component": "strikes_json", "path": path}),
	}, nil
}

func (f *JSONFile) Path() string {
	return f.path
}

func (f *JSONFile) Load(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mirror = make(map[Key]Record)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Info("no ledger yet, starting a new one")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStorageRead, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	raw := make(map[string]jsonRecord)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", apperrors.ErrStorageRead, f.path, err)
	}

	res := make([]Record, 0, len(raw))
	for rawKey, jr := range raw {
		key, err := ParseKey(rawKey)
		if err != nil {
			f.logger.WithError(err).Warn("skipping ledger entry")
			continue
		}
		if jr.Strikes < 1 {
			f.logger.WithField("key", rawKey).Warn("skipping ledger entry without strikes")
			continue
		}
		rec := Record{
			Key:       key,
			Strikes:   jr.Strikes,
			Username:  deref(jr.Username),
			FirstName: deref(jr.FirstName),
		}
		if jr.LastStrike != nil {
			ts, err := parseTimestamp(*jr.LastStrike)
			if err != nil {
				f.logger.WithError(err).WithField("key", rawKey).Warn("unreadable last strike time")
			}
			rec.LastStrike = ts
		}
		f.mirror[key] = rec
		res = append(res, rec)
	}
	return res, nil
}

func (f *JSONFile) Put(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mirror[rec.Key] = rec
	return f.flush()
}

func (f *JSONFile) Delete(_ context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.mirror, key)
	return f.flush()
}

// Quarantine renames the current file aside so a fresh ledger can be started by hand.
func (f *JSONFile) Quarantine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
	if err := os.Rename(f.path, target); err != nil {
		return "", fmt.Errorf("quarantine ledger: %w", err)
	}
	return target, nil
}

func (f *JSONFile) flush() error {
	out := make(map[string]jsonRecord, len(f.mirror))
	for key, rec := range f.mirror {
		jr := jsonRecord{
			Strikes:   rec.Strikes,
			Username:  nullable(rec.Username),
			FirstName: nullable(rec.FirstName),
		}
		if !rec.LastStrike.IsZero() {
			ts := rec.LastStrike.UTC().Format(time.RFC3339Nano)
			jr.LastStrike = &ts
		}
		out[key.String()] = jr
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(legacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
