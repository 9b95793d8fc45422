package catalog

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
	"github.com/tonimelisma/tonies-go/internal/tonies"
	"github.com/tonimelisma/tonies-go/internal/tonies/toniestest"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db, slog.Default()), db
}

func insertCredential(t *testing.T, db *sql.DB, id string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO credentials (id, owner_id, username, encrypted_password, created_at)
		VALUES (?, 'owner', ?, 'x', 0)`, id, id+"@example.com")
	require.NoError(t, err)
}

// fakeSource is a RemoteSource backed by maps.
type fakeSource struct {
	households []tonies.Household
	devices    map[string][]tonies.Device
	failDevice string
}

func (f *fakeSource) ListHouseholds(context.Context, tonies.Account) ([]tonies.Household, error) {
	return f.households, nil
}

func (f *fakeSource) ListDevices(_ context.Context, _ tonies.Account, householdID string) ([]tonies.Device, error) {
	if householdID == f.failDevice {
		return nil, errors.New("remote unavailable")
	}

	return f.devices[householdID], nil
}

func TestLocalRecords(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	h, err := s.AddLocalHousehold(ctx, " Grandma ", "remote-h")
	require.NoError(t, err)
	assert.Equal(t, "Grandma", h.Name)
	assert.Equal(t, OriginLocal, h.Origin)

	d, err := s.AddLocalDevice(ctx, h.ID, "remote-d", "Bedtime")
	require.NoError(t, err)

	ref, err := s.ResolveDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, &DeviceRef{
		ID:                d.ID,
		RemoteID:          "remote-d",
		Name:              "Bedtime",
		HouseholdID:       h.ID,
		HouseholdRemoteID: "remote-h",
		Origin:            OriginLocal,
	}, ref)

	devices, err := s.ListDevices(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, *d, devices[0])
}

func TestAddLocalDevice_Rejections(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddLocalDevice(ctx, "missing", "r", "n")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.AddLocalDevice(ctx, "missing", "", "n")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	insertCredential(t, db, "c1")
	_, err = s.Refresh(ctx, &fakeSource{
		households: []tonies.Household{{ID: "h1", Name: "Home", Access: "owner"}},
	}, "c1", tonies.Account{})
	require.NoError(t, err)

	households, err := s.ListHouseholds(ctx)
	require.NoError(t, err)
	require.Len(t, households, 1)

	_, err = s.AddLocalDevice(ctx, households[0].ID, "t1", "Sneaky")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.AddLocalHousehold(ctx, "   ", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestResolve_Missing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.ResolveDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.ResolveContent(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestContent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.AddContent(ctx, "Lullaby", "filesystem:lullaby.mp3", "audio/mpeg", 1234)
	require.NoError(t, err)

	second, err := s.AddContent(ctx, "Story", "https://example.com/story.mp3", "", 0)
	require.NoError(t, err)

	ref, err := s.ResolveContent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, &ContentRef{ID: first.ID, Title: "Lullaby", Locator: "filesystem:lullaby.mp3"}, ref)

	list, err := s.ListContent(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, int64(1234), list[1].Size)

	_, err = s.AddContent(ctx, "", "x", "", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRefresh_UpsertsAndPrunes(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	insertCredential(t, db, "c1")

	src := &fakeSource{
		households: []tonies.Household{
			{ID: "h1", Name: "Home", Access: "owner"},
			{ID: "h2", Name: "Cabin", Access: "member"},
		},
		devices: map[string][]tonies.Device{
			"h1": {{ID: "t1", Name: "Elephant"}, {ID: "t2", Name: "Fox"}},
			"h2": {{ID: "t3", Name: "Owl"}},
		},
	}

	stats, err := s.Refresh(ctx, src, "c1", tonies.Account{})
	require.NoError(t, err)
	assert.Equal(t, RefreshStats{Households: 2, Devices: 3}, stats)

	before, err := s.ListDevices(ctx, "")
	require.NoError(t, err)
	require.Len(t, before, 3)

	// Rename one device, drop another, and lose the second household.
	src.households = src.households[:1]
	src.devices["h1"] = []tonies.Device{{ID: "t1", Name: "Big Elephant"}}

	stats, err = s.Refresh(ctx, src, "c1", tonies.Account{})
	require.NoError(t, err)
	assert.Equal(t, RefreshStats{Households: 1, Devices: 1, PrunedHouseholds: 1, PrunedDevices: 1}, stats)

	after, err := s.ListDevices(ctx, "")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Big Elephant", after[0].Name)

	// Local ids survive a refresh.
	for _, d := range before {
		if d.RemoteID == "t1" {
			assert.Equal(t, d.ID, after[0].ID)
		}
	}

	ref, err := s.ResolveDevice(ctx, after[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", ref.CredentialID)
	assert.Equal(t, "h1", ref.HouseholdRemoteID)
	assert.Equal(t, OriginCloud, ref.Origin)
}

func TestRefresh_LeavesLocalAndOtherCredentialRowsAlone(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	insertCredential(t, db, "c1")
	insertCredential(t, db, "c2")

	local, err := s.AddLocalHousehold(ctx, "Manual", "h1")
	require.NoError(t, err)

	_, err = s.Refresh(ctx, &fakeSource{households: []tonies.Household{{ID: "h1", Name: "Shared"}}}, "c2", tonies.Account{})
	require.NoError(t, err)

	_, err = s.Refresh(ctx, &fakeSource{}, "c1", tonies.Account{})
	require.NoError(t, err)

	households, err := s.ListHouseholds(ctx)
	require.NoError(t, err)
	require.Len(t, households, 2)

	_, err = s.GetHousehold(ctx, local.ID)
	require.NoError(t, err)
}

func TestRefresh_RemoteFailureWritesNothing(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	insertCredential(t, db, "c1")

	src := &fakeSource{
		households: []tonies.Household{{ID: "h1", Name: "Home"}, {ID: "h2", Name: "Cabin"}},
		failDevice: "h2",
	}

	_, err := s.Refresh(ctx, src, "c1", tonies.Account{})
	require.ErrorContains(t, err, "remote unavailable")

	households, err := s.ListHouseholds(ctx)
	require.NoError(t, err)
	assert.Empty(t, households)
}

func TestRefresh_AgainstCloud(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("hh-1", "Family", "owner")
	cloud.AddDevice("hh-1", "ct-1", "Dino")

	tokens := tonies.NewTokenCache(cloud.TokenURL(), tonies.DefaultClientID, http.DefaultClient, 0, slog.Default())
	client := tonies.NewClient(cloud.BaseURL(), http.DefaultClient, tokens, nil, slog.Default(), "test")

	insertCredential(t, db, "c1")

	stats, err := s.Refresh(ctx, client, "c1", tonies.Account{Username: toniestest.Username, Password: toniestest.Password})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Households)
	assert.Equal(t, 1, stats.Devices)

	devices, err := s.ListDevices(ctx, "")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "ct-1", devices[0].RemoteID)
	assert.Equal(t, "Dino", devices[0].Name)
}
