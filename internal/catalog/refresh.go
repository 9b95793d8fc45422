package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/tonies-go/internal/tonies"
)

// RemoteSource lists what a credential can see in the cloud.
// *tonies.Client satisfies it.
type RemoteSource interface {
	ListHouseholds(ctx context.Context, acct tonies.Account) ([]tonies.Household, error)
	ListDevices(ctx context.Context, acct tonies.Account, householdID string) ([]tonies.Device, error)
}

// RefreshStats summarizes one mirror pass.
type RefreshStats struct {
	Households       int
	Devices          int
	PrunedHouseholds int
	PrunedDevices    int
}

// Refresh mirrors the households and devices acct can see as cloud-origin
// rows owned by credentialID. Rows that disappeared remotely are removed.
// All remote reads finish before anything is written.
func (s *Store) Refresh(ctx context.Context, src RemoteSource, credentialID string, acct tonies.Account) (RefreshStats, error) {
	var stats RefreshStats

	households, err := src.ListHouseholds(ctx, acct)
	if err != nil {
		return stats, fmt.Errorf("catalog: listing remote households: %w", err)
	}

	devices := make(map[string][]tonies.Device, len(households))

	for _, h := range households {
		list, err := src.ListDevices(ctx, acct, h.ID)
		if err != nil {
			return stats, fmt.Errorf("catalog: listing devices of %s: %w", h.ID, err)
		}

		devices[h.ID] = list
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("catalog: beginning refresh: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	keepHouseholds := make(map[string]bool, len(households))

	for _, h := range households {
		localID, err := upsertCloudHousehold(ctx, tx, credentialID, h)
		if err != nil {
			return stats, err
		}

		keepHouseholds[localID] = true
		stats.Households++

		keepDevices := make(map[string]bool, len(devices[h.ID]))

		for _, d := range devices[h.ID] {
			if err := upsertCloudDevice(ctx, tx, localID, d); err != nil {
				return stats, err
			}

			keepDevices[d.ID] = true
			stats.Devices++
		}

		pruned, err := pruneDevices(ctx, tx, localID, keepDevices)
		if err != nil {
			return stats, err
		}

		stats.PrunedDevices += pruned
	}

	pruned, err := pruneHouseholds(ctx, tx, credentialID, keepHouseholds)
	if err != nil {
		return stats, err
	}

	stats.PrunedHouseholds = pruned

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("catalog: committing refresh: %w", err)
	}

	s.logger.Info("cloud catalog refreshed",
		slog.String("credential_id", credentialID),
		slog.Int("households", stats.Households),
		slog.Int("devices", stats.Devices),
		slog.Int("pruned_households", stats.PrunedHouseholds),
		slog.Int("pruned_devices", stats.PrunedDevices),
	)

	return stats, nil
}

func upsertCloudHousehold(ctx context.Context, tx *sql.Tx, credentialID string, h tonies.Household) (string, error) {
	var id string

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM households WHERE origin = 'cloud' AND credential_id = ? AND remote_id = ?`,
		credentialID, h.ID).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO households (id, remote_id, credential_id, name, access, origin) VALUES (?, ?, ?, ?, ?, 'cloud')`,
			id, h.ID, credentialID, h.Name, h.Access)
	case err == nil:
		_, err = tx.ExecContext(ctx, `UPDATE households SET name = ?, access = ? WHERE id = ?`, h.Name, h.Access, id)
	}

	if err != nil {
		return "", fmt.Errorf("catalog: storing household %s: %w", h.ID, err)
	}

	return id, nil
}

func upsertCloudDevice(ctx context.Context, tx *sql.Tx, householdID string, d tonies.Device) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO devices (id, household_id, remote_id, name, origin) VALUES (?, ?, ?, ?, 'cloud')
		 ON CONFLICT (household_id, remote_id) DO UPDATE SET name = excluded.name`,
		uuid.NewString(), householdID, d.ID, d.Name)
	if err != nil {
		return fmt.Errorf("catalog: storing device %s: %w", d.ID, err)
	}

	return nil
}

func pruneDevices(ctx context.Context, tx *sql.Tx, householdID string, keep map[string]bool) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, remote_id FROM devices WHERE household_id = ?`, householdID)
	if err != nil {
		return 0, fmt.Errorf("catalog: listing stored devices: %w", err)
	}

	var stale []string

	for rows.Next() {
		var id, remoteID string
		if err := rows.Scan(&id, &remoteID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("catalog: scanning stored device: %w", err)
		}

		if !keep[remoteID] {
			stale = append(stale, id)
		}
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("catalog: iterating stored devices: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("catalog: pruning device %s: %w", id, err)
		}
	}

	return len(stale), nil
}

func pruneHouseholds(ctx context.Context, tx *sql.Tx, credentialID string, keep map[string]bool) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM households WHERE origin = 'cloud' AND credential_id = ?`, credentialID)
	if err != nil {
		return 0, fmt.Errorf("catalog: listing stored households: %w", err)
	}

	var stale []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("catalog: scanning stored household: %w", err)
		}

		if !keep[id] {
			stale = append(stale, id)
		}
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("catalog: iterating stored households: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM households WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("catalog: pruning household %s: %w", id, err)
		}
	}

	return len(stale), nil
}
