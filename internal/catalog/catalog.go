// Package catalog is the local record store for households, Creative
// Tonies and content. Cloud-origin households and devices mirror what a
// linked credential sees remotely and are removed with it; local-origin
// records are created by hand and never touched by a mirror or an unlink.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
)

// Record origins.
const (
	OriginCloud = "cloud"
	OriginLocal = "local"
)

// Household is a stored household.
type Household struct {
	ID           string `json:"id"`
	RemoteID     string `json:"remote_id"`
	CredentialID string `json:"credential_id,omitempty"` // empty for local households
	Name         string `json:"name"`
	Access       string `json:"access,omitempty"`
	Origin       string `json:"origin"`
}

// Device is a stored Creative Tonie.
type Device struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	RemoteID    string `json:"remote_id"`
	Name        string `json:"name"`
	Origin      string `json:"origin"`
}

// Content is an audio item that can be synced to devices.
type Content struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Locator     string    `json:"locator"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeviceRef is everything needed to address a device remotely.
type DeviceRef struct {
	ID                string
	RemoteID          string
	Name              string
	HouseholdID       string
	HouseholdRemoteID string
	CredentialID      string // empty for devices in local households
	Origin            string
}

// ContentRef is everything needed to read a content item's bytes.
type ContentRef struct {
	ID      string
	Title   string
	Locator string
}

// Store reads and writes catalog records.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewStore creates a Store on an open database.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now}
}

// ResolveDevice looks up a device and its household.
func (s *Store) ResolveDevice(ctx context.Context, id string) (*DeviceRef, error) {
	var (
		ref    DeviceRef
		credID sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.remote_id, d.name, h.id, h.remote_id, h.credential_id, d.origin
		 FROM devices d JOIN households h ON h.id = d.household_id
		 WHERE d.id = ?`, id).
		Scan(&ref.ID, &ref.RemoteID, &ref.Name, &ref.HouseholdID, &ref.HouseholdRemoteID, &credID, &ref.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: device %s: %w", id, apperr.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: resolving device %s: %w", id, err)
	}

	ref.CredentialID = credID.String

	return &ref, nil
}

// ResolveContent looks up a content item.
func (s *Store) ResolveContent(ctx context.Context, id string) (*ContentRef, error) {
	c, err := s.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ContentRef{ID: c.ID, Title: c.Title, Locator: c.Locator}, nil
}

// AddLocalHousehold creates a household by hand. remoteID is the cloud
// household it addresses, if any.
func (s *Store) AddLocalHousehold(ctx context.Context, name, remoteID string) (*Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("catalog: household name is required")
	}

	h := &Household{
		ID:       uuid.NewString(),
		RemoteID: remoteID,
		Name:     name,
		Access:   "owner",
		Origin:   OriginLocal,
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO households (id, remote_id, name, access, origin) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.RemoteID, h.Name, h.Access, h.Origin); err != nil {
		return nil, fmt.Errorf("catalog: adding household: %w", err)
	}

	return h, nil
}

// AddLocalDevice creates a device by hand inside a local household.
// Cloud households only hold mirrored devices.
func (s *Store) AddLocalDevice(ctx context.Context, householdID, remoteID, name string) (*Device, error) {
	if remoteID == "" || strings.TrimSpace(name) == "" {
		return nil, apperr.Invalid("catalog: device remote id and name are required")
	}

	h, err := s.GetHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}

	if h.Origin != OriginLocal {
		return nil, apperr.Invalid("catalog: household %s is mirrored from the cloud; add devices there", householdID)
	}

	d := &Device{
		ID:          uuid.NewString(),
		HouseholdID: householdID,
		RemoteID:    remoteID,
		Name:        strings.TrimSpace(name),
		Origin:      OriginLocal,
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, household_id, remote_id, name, origin) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.HouseholdID, d.RemoteID, d.Name, d.Origin); err != nil {
		return nil, fmt.Errorf("catalog: adding device: %w", err)
	}

	return d, nil
}

// GetHousehold returns one household.
func (s *Store) GetHousehold(ctx context.Context, id string) (*Household, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, remote_id, credential_id, name, access, origin FROM households WHERE id = ?`, id)

	h, err := scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: household %s: %w", id, apperr.ErrNotFound)
	}

	return h, err
}

// ListHouseholds returns every stored household by name.
func (s *Store) ListHouseholds(ctx context.Context) ([]Household, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id, credential_id, name, access, origin FROM households ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing households: %w", err)
	}
	defer rows.Close()

	var out []Household

	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *h)
	}

	return out, rows.Err()
}

// ListDevices returns the devices of one household, or of all households
// when householdID is empty.
func (s *Store) ListDevices(ctx context.Context, householdID string) ([]Device, error) {
	query := `SELECT id, household_id, remote_id, name, origin FROM devices`
	args := []any{}

	if householdID != "" {
		query += ` WHERE household_id = ?`
		args = append(args, householdID)
	}

	rows, err := s.db.QueryContext(ctx, query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing devices: %w", err)
	}
	defer rows.Close()

	var out []Device

	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.HouseholdID, &d.RemoteID, &d.Name, &d.Origin); err != nil {
			return nil, fmt.Errorf("catalog: scanning device: %w", err)
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// AddContent records a content item whose bytes live at locator.
func (s *Store) AddContent(ctx context.Context, title, locator, contentType string, size int64) (*Content, error) {
	title = strings.TrimSpace(title)
	if title == "" || locator == "" {
		return nil, apperr.Invalid("catalog: content title and locator are required")
	}

	c := &Content{
		ID:          uuid.NewString(),
		Title:       title,
		Locator:     locator,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   s.nowFunc().UTC(),
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO content (id, title, locator, content_type, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Locator, c.ContentType, c.Size, store.Nanos(c.CreatedAt)); err != nil {
		return nil, fmt.Errorf("catalog: adding content: %w", err)
	}

	return c, nil
}

// GetContent returns one content item.
func (s *Store) GetContent(ctx context.Context, id string) (*Content, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, locator, content_type, size, created_at FROM content WHERE id = ?`, id)

	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: content %s: %w", id, apperr.ErrNotFound)
	}

	return c, err
}

// ListContent returns content items, newest first.
func (s *Store) ListContent(ctx context.Context) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, locator, content_type, size, created_at FROM content ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing content: %w", err)
	}
	defer rows.Close()

	var out []Content

	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *c)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHousehold(s scanner) (*Household, error) {
	var (
		h      Household
		credID sql.NullString
	)

	err := s.Scan(&h.ID, &h.RemoteID, &credID, &h.Name, &h.Access, &h.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning household: %w", err)
	}

	h.CredentialID = credID.String

	return &h, nil
}

func scanContent(s scanner) (*Content, error) {
	var (
		c         Content
		createdAt int64
	)

	err := s.Scan(&c.ID, &c.Title, &c.Locator, &c.ContentType, &c.Size, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning content: %w", err)
	}

	c.CreatedAt = store.TimeFromNanos(createdAt)

	return &c, nil
}
