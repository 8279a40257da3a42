package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Record identity of the known device set.
const (
	KnownDevicesKey     = "dimmer_from_switches_data"
	KnownDevicesVersion = 1
)

type knownDevicesData struct {
	KnownIDs []string `json:"known_ids"`
}

// KnownDevices is the persisted known device set, kept as one versioned
// JSON record in the storage table.
type KnownDevices struct {
	db  *sql.DB
	now func() time.Time
}

// NewKnownDevices creates a KnownDevices backed by db.
func NewKnownDevices(db *sql.DB) *KnownDevices {
	return &KnownDevices{db: db, now: time.Now}
}

// Load returns the stored known device ids.
//
// Parameters:
//   - ctx: Context for the query
//
// Returns:
//   - []string: Sorted ids; empty (not nil) when no record exists yet
//   - error: ErrUnsupportedVersion for a record written by a newer version,
//     ErrCorruptRecord if the data cannot be decoded
func (k *KnownDevices) Load(ctx context.Context) ([]string, error) {
	const query = `SELECT version, data FROM storage WHERE key = ?`

	var (
		version int
		data    string
	)
	err := k.db.QueryRowContext(ctx, query, KnownDevicesKey).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading known devices: %w", err)
	}
	if version > KnownDevicesVersion {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, KnownDevicesVersion)
	}

	var rec knownDevicesData
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return normalise(rec.KnownIDs), nil
}

// Save replaces the stored set with ids.
//
// Ids are sorted and deduplicated, and blanks are dropped, before the record
// is written at KnownDevicesVersion.
//
// Parameters:
//   - ctx: Context for the write
//   - ids: Device ids to persist
//
// Returns:
//   - error: If the write fails
func (k *KnownDevices) Save(ctx context.Context, ids []string) error {
	data, err := json.Marshal(knownDevicesData{KnownIDs: normalise(ids)})
	if err != nil {
		return fmt.Errorf("encoding known devices: %w", err)
	}

	const query = `INSERT INTO storage (key, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`
	_, err = k.db.ExecContext(ctx, query,
		KnownDevicesKey, KnownDevicesVersion, string(data), k.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving known devices: %w", err)
	}
	return nil
}

// normalise sorts ids and drops blanks and duplicates.
func normalise(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
