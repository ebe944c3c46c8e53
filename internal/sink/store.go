package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/database"
	"github.com/nerrad567/btlesniffer/internal/radio"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500

	// timeLayout is fixed width so TEXT timestamps sort chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrNotFound is returned when a device has no stored sightings.
var ErrNotFound = errors.New("sink: not found")

// DeviceSummary is the stored per-device rollup of sightings.
type DeviceSummary struct {
	Identifier string    `json:"identifier"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastRSSI   int       `json:"last_rssi"`
	Attempts   int64     `json:"attempts"`
	Successes  int64     `json:"successes"`
	DeviceName string    `json:"device_name,omitempty"`
}

// Store persists sightings in the local SQLite database and keeps the
// devices rollup current. It is the history behind the status API.
type Store struct {
	db *database.DB
}

// NewStore creates a store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Publish implements Publisher by inserting the sighting and updating the
// device rollup in one transaction.
func (s *Store) Publish(ctx context.Context, sg Sighting) error {
	var (
		name, addrType, manufacturer, model, uuids sql.NullString
	)
	if sg.Device != nil {
		name = nullString(sg.Device.Name)
		addrType = nullString(sg.Device.AddressType)
		manufacturer = nullString(sg.Device.Manufacturer)
		model = nullString(sg.Device.Model)
		if len(sg.Device.ServiceUUIDs) > 0 {
			raw, err := json.Marshal(sg.Device.ServiceUUIDs)
			if err != nil {
				return fmt.Errorf("marshalling service uuids: %w", err)
			}
			uuids = nullString(string(raw))
		}
	}
	ts := formatTime(sg.Timestamp)

	success := 0
	if sg.ConnectionSuccess {
		success = 1
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sightings (id, node_id, identifier, rssi, timestamp, connection_success,
				error, device_name, address_type, manufacturer, model, service_uuids)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sg.ID, sg.NodeID, sg.Identifier, sg.RSSI, ts, success,
			nullString(sg.Error), name, addrType, manufacturer, model, uuids,
		)
		if err != nil {
			return fmt.Errorf("inserting sighting: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO devices (identifier, first_seen, last_seen, last_rssi, attempts, successes, device_name)
			 VALUES (?, ?, ?, ?, 1, ?, ?)
			 ON CONFLICT(identifier) DO UPDATE SET
				first_seen  = min(first_seen, excluded.first_seen),
				last_seen   = max(last_seen, excluded.last_seen),
				last_rssi   = CASE WHEN excluded.last_seen >= last_seen THEN excluded.last_rssi ELSE last_rssi END,
				attempts    = attempts + 1,
				successes   = successes + excluded.successes,
				device_name = COALESCE(excluded.device_name, device_name)`,
			sg.Identifier, ts, ts, sg.RSSI, success, name,
		)
		if err != nil {
			return fmt.Errorf("updating device rollup: %w", err)
		}
		return nil
	})
}

// Recent returns the newest sightings first. An empty identifier returns
// sightings of all devices. limit defaults to 50 and is capped at 500.
func (s *Store) Recent(ctx context.Context, limit int, identifier string) ([]Sighting, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `SELECT id, node_id, identifier, rssi, timestamp, connection_success,
			error, device_name, address_type, manufacturer, model, service_uuids
		 FROM sightings`
	args := []any{}
	if identifier != "" {
		query += " WHERE identifier = ?"
		args = append(args, identifier)
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sightings: %w", err)
	}
	defer rows.Close()

	out := make([]Sighting, 0, limit)
	for rows.Next() {
		sg, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sightings: %w", err)
	}
	return out, nil
}

// Device returns the stored rollup for identifier, or ErrNotFound.
func (s *Store) Device(ctx context.Context, identifier string) (DeviceSummary, error) {
	var (
		d                   DeviceSummary
		firstSeen, lastSeen string
		name                sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, first_seen, last_seen, last_rssi, attempts, successes, device_name
		 FROM devices WHERE identifier = ?`,
		identifier,
	).Scan(&d.Identifier, &firstSeen, &lastSeen, &d.LastRSSI, &d.Attempts, &d.Successes, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceSummary{}, ErrNotFound
	}
	if err != nil {
		return DeviceSummary{}, fmt.Errorf("querying device: %w", err)
	}

	if d.FirstSeen, err = parseTime(firstSeen); err != nil {
		return DeviceSummary{}, err
	}
	if d.LastSeen, err = parseTime(lastSeen); err != nil {
		return DeviceSummary{}, err
	}
	d.DeviceName = name.String
	return d, nil
}

func scanSighting(rows *sql.Rows) (Sighting, error) {
	var (
		sg                                                  Sighting
		ts                                                  string
		success                                             int
		errText, name, addrType, manufacturer, model, uuids sql.NullString
	)
	if err := rows.Scan(&sg.ID, &sg.NodeID, &sg.Identifier, &sg.RSSI, &ts, &success,
		&errText, &name, &addrType, &manufacturer, &model, &uuids); err != nil {
		return Sighting{}, fmt.Errorf("scanning sighting: %w", err)
	}

	var err error
	if sg.Timestamp, err = parseTime(ts); err != nil {
		return Sighting{}, err
	}
	sg.ConnectionSuccess = success == 1
	sg.Error = errText.String

	if name.Valid || addrType.Valid || manufacturer.Valid || model.Valid || uuids.Valid {
		meta := &radio.Metadata{
			Name:         name.String,
			AddressType:  addrType.String,
			Manufacturer: manufacturer.String,
			Model:        model.String,
		}
		if uuids.Valid {
			if err := json.Unmarshal([]byte(uuids.String), &meta.ServiceUUIDs); err != nil {
				return Sighting{}, fmt.Errorf("unmarshalling service uuids: %w", err)
			}
		}
		sg.Device = meta
	}
	return sg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
