package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/database"
	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db)
}

func TestStorePublishAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	meta := &radio.Metadata{
		Name:         "Band 7",
		AddressType:  "random",
		ServiceUUIDs: []string{"0000180d-0000-1000-8000-00805f9b34fb"},
		Manufacturer: "Acme",
	}
	sightings := []Sighting{
		NewSighting("node-001", "AA:BB:CC:DD:EE:FF", -60, base, true, nil, meta),
		NewSighting("node-001", "11:22:33:44:55:66", -75, base.Add(time.Second), false, errors.New("connection timeout"), nil),
		NewSighting("node-001", "AA:BB:CC:DD:EE:FF", -58, base.Add(31*time.Second), false, errors.New("connection failed"), nil),
	}
	for _, s := range sightings {
		if err := store.Publish(ctx, s); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	all, err := store.Recent(ctx, 0, "")
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Recent() returned %d sightings, want 3", len(all))
	}
	if all[0].ID != sightings[2].ID || all[2].ID != sightings[0].ID {
		t.Errorf("Recent() not newest first: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	oldest := all[2]
	if !oldest.ConnectionSuccess || oldest.Device == nil {
		t.Fatalf("first sighting lost its outcome or device: %+v", oldest)
	}
	if oldest.Device.Name != "Band 7" || oldest.Device.Manufacturer != "Acme" ||
		len(oldest.Device.ServiceUUIDs) != 1 {
		t.Errorf("device = %+v", oldest.Device)
	}
	if !oldest.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", oldest.Timestamp, base)
	}
	if all[1].Error != "connection timeout" || all[1].Device != nil {
		t.Errorf("failed sighting = %+v", all[1])
	}

	one, err := store.Recent(ctx, 10, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Recent(identifier) error = %v", err)
	}
	if len(one) != 2 {
		t.Errorf("Recent(identifier) returned %d, want 2", len(one))
	}

	limited, err := store.Recent(ctx, 1, "")
	if err != nil {
		t.Fatalf("Recent(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Recent(limit=1) returned %d", len(limited))
	}
}

func TestStoreDeviceRollup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	id := "AA:BB:CC:DD:EE:FF"

	publish := func(s Sighting) {
		t.Helper()
		if err := store.Publish(ctx, s); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	publish(NewSighting("node-001", id, -60, base.Add(40*time.Second), true, nil, &radio.Metadata{Name: "Band 7"}))
	publish(NewSighting("node-001", id, -70, base, false, errors.New("connection failed"), nil))

	d, err := store.Device(ctx, id)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if d.Attempts != 2 || d.Successes != 1 {
		t.Errorf("attempts/successes = %d/%d, want 2/1", d.Attempts, d.Successes)
	}
	if !d.FirstSeen.Equal(base) || !d.LastSeen.Equal(base.Add(40*time.Second)) {
		t.Errorf("first/last = %v/%v", d.FirstSeen, d.LastSeen)
	}
	if d.LastRSSI != -60 {
		t.Errorf("LastRSSI = %d, want -60 from the newest sighting", d.LastRSSI)
	}
	if d.DeviceName != "Band 7" {
		t.Errorf("DeviceName = %q, want it kept across nameless sightings", d.DeviceName)
	}

	if _, err := store.Device(ctx, "00:00:00:00:00:00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Device(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStoreDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s := NewSighting("node-001", "AA:BB:CC:DD:EE:FF", -60, time.Now(), true, nil, nil)
	if err := store.Publish(ctx, s); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := store.Publish(ctx, s); err == nil {
		t.Fatal("Publish() of a duplicate ID expected error")
	}

	d, err := store.Device(ctx, s.Identifier)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if d.Attempts != 1 {
		t.Errorf("Attempts = %d, rollup must roll back with the failed insert", d.Attempts)
	}
}
