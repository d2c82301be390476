package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Snapshot is the persisted form of a device record.
//
// Persistence collapses the per-backend binding structure into flat
// comma-separated lists: IconName holds the icon hint list and UniqueID
// the native ids. Re-expansion on load creates one binding per id with no
// live backend attached.
type Snapshot struct {
	ID           int64
	FriendlyName string
	Size         int64
	IconName     string
	UniqueID     string
}

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetAllDevices retrieves every persisted device snapshot.
	GetAllDevices(ctx context.Context) ([]Snapshot, error)

	// AddDevice inserts a new snapshot and returns its assigned id.
	AddDevice(ctx context.Context, snap Snapshot) (int64, error)

	// RemoveDevice deletes a persisted device by id.
	// Removing an id that does not exist is not an error.
	RemoveDevice(ctx context.Context, id int64) error

	// SetIdentity updates the user-visible name and icon of a device.
	SetIdentity(ctx context.Context, id int64, name, iconName string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the portdock
// schema applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetAllDevices retrieves every persisted device snapshot.
func (r *SQLiteRepository) GetAllDevices(ctx context.Context) ([]Snapshot, error) {
	query := `
		SELECT id, friendly_name, size, icon_name, unique_id
		FROM devices
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var snaps []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.FriendlyName, &s.Size, &s.IconName, &s.UniqueID); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}

	return snaps, nil
}

// AddDevice inserts a new snapshot and returns its assigned id.
func (r *SQLiteRepository) AddDevice(ctx context.Context, snap Snapshot) (int64, error) {
	query := `
		INSERT INTO devices (friendly_name, size, icon_name, unique_id)
		VALUES (?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		snap.FriendlyName, snap.Size, snap.IconName, snap.UniqueID)
	if err != nil {
		return 0, fmt.Errorf("inserting device: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted device id: %w", err)
	}
	return id, nil
}

// RemoveDevice deletes a persisted device by id.
func (r *SQLiteRepository) RemoveDevice(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting device %d: %w", id, err)
	}
	return nil
}

// SetIdentity updates the user-visible name and icon of a device.
func (r *SQLiteRepository) SetIdentity(ctx context.Context, id int64, name, iconName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET friendly_name = ?, icon_name = ? WHERE id = ?`,
		name, iconName, id)
	if err != nil {
		return fmt.Errorf("updating device %d identity: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("updating device %d identity: %w", id, errors.New("no such device"))
	}
	return nil
}
