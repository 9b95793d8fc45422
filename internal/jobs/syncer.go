package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tonimelisma/tonies-go/internal/adapter"
	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/catalog"
	"github.com/tonimelisma/tonies-go/internal/credential"
	"github.com/tonimelisma/tonies-go/internal/tonies"
)

// Track is one content item to push to a device.
type Track struct {
	ContentID string
	Title     string
	Locator   string
}

// Target is the device a job syncs to and who asked for it.
type Target struct {
	Device      catalog.DeviceRef
	RequestedBy string
}

// Result is the outcome of a Syncer run. Every syncer reports in this
// shape so they can be swapped behind the orchestrator.
type Result struct {
	Success         bool
	Message         string
	ErrorDetails    string
	TracksProcessed int
}

// Syncer performs the remote part of a job. A returned error is an
// unexpected failure; a Result with Success false is a structured one.
type Syncer interface {
	Sync(ctx context.Context, target Target, tracks []Track) (*Result, error)
}

// Accounts loads decrypted cloud accounts.
type Accounts interface {
	Account(ctx context.Context, id string) (tonies.Account, error)
	Default(ctx context.Context, ownerID string) (*credential.Credential, error)
}

// MediaOpener opens a content locator.
type MediaOpener interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// AudioSyncer is the cloud client's composite sync call.
type AudioSyncer interface {
	SyncAudio(ctx context.Context, acct tonies.Account, householdID, deviceID string, audio io.Reader, title string) tonies.SyncResult
}

// DirectSyncer talks to the cloud from this process, one track at a time.
type DirectSyncer struct {
	accounts Accounts
	media    MediaOpener
	cloud    AudioSyncer
	logger   *slog.Logger
}

// NewDirectSyncer creates a DirectSyncer.
func NewDirectSyncer(accounts Accounts, media MediaOpener, cloud AudioSyncer, logger *slog.Logger) *DirectSyncer {
	if logger == nil {
		logger = slog.Default()
	}

	return &DirectSyncer{accounts: accounts, media: media, cloud: cloud, logger: logger}
}

func (d *DirectSyncer) Sync(ctx context.Context, target Target, tracks []Track) (*Result, error) {
	acct, err := accountFor(ctx, d.accounts, target)
	if err != nil {
		return nil, err
	}

	res := &Result{Success: true}

	for _, t := range tracks {
		out, err := d.syncTrack(ctx, acct, target.Device, t)
		if err != nil {
			return nil, err
		}

		if !out.Success {
			return &Result{
				Message:         out.Message,
				ErrorDetails:    out.ErrorDetails,
				TracksProcessed: res.TracksProcessed,
			}, nil
		}

		res.TracksProcessed++
		res.Message = out.Message
	}

	if len(tracks) > 1 {
		res.Message = fmt.Sprintf("synced %d tracks", res.TracksProcessed)
	}

	return res, nil
}

func (d *DirectSyncer) syncTrack(ctx context.Context, acct tonies.Account, dev catalog.DeviceRef, t Track) (tonies.SyncResult, error) {
	body, err := d.media.Open(ctx, t.Locator)
	if err != nil {
		return tonies.SyncResult{}, fmt.Errorf("jobs: opening content %s: %w", t.ContentID, err)
	}
	defer body.Close()

	d.logger.Debug("syncing track",
		slog.String("device_id", dev.ID),
		slog.String("content_id", t.ContentID),
		slog.Any("account", acct),
	)

	return d.cloud.SyncAudio(ctx, acct, dev.HouseholdRemoteID, dev.RemoteID, body, t.Title), nil
}

// accountFor picks the account for a device: the credential its household
// was mirrored through, or the requester's default for local households.
func accountFor(ctx context.Context, accounts Accounts, target Target) (tonies.Account, error) {
	credID := target.Device.CredentialID

	if credID == "" {
		if target.RequestedBy == "" {
			return tonies.Account{}, apperr.Invalid("jobs: device %s has no linked account and no requester", target.Device.ID)
		}

		def, err := accounts.Default(ctx, target.RequestedBy)
		if err != nil {
			return tonies.Account{}, err
		}

		credID = def.ID
	}

	return accounts.Account(ctx, credID)
}

// URLResolver turns a content locator into a URL the adapter can fetch.
type URLResolver interface {
	ResolveURL(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// AdapterClient is the adapter's sync call.
type AdapterClient interface {
	Sync(ctx context.Context, req adapter.SyncRequest) (*adapter.SyncResponse, error)
}

// AdapterSyncer hands the job to a sync adapter over HTTP.
type AdapterSyncer struct {
	client AdapterClient
	urls   URLResolver
	ttl    time.Duration
}

// NewAdapterSyncer creates an AdapterSyncer. ttl bounds how long resolved
// source URLs stay valid.
func NewAdapterSyncer(client AdapterClient, urls URLResolver, ttl time.Duration) *AdapterSyncer {
	return &AdapterSyncer{client: client, urls: urls, ttl: ttl}
}

func (a *AdapterSyncer) Sync(ctx context.Context, target Target, tracks []Track) (*Result, error) {
	req := adapter.SyncRequest{CreativeTonieExternalID: target.Device.RemoteID}

	for _, t := range tracks {
		u, err := a.urls.ResolveURL(ctx, t.Locator, a.ttl)
		if err != nil {
			return nil, fmt.Errorf("jobs: resolving content %s: %w", t.ContentID, err)
		}

		req.Tracks = append(req.Tracks, adapter.Track{Title: t.Title, SourceURL: u})
	}

	resp, err := a.client.Sync(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Result{
		Success:         resp.Success,
		Message:         resp.Message,
		ErrorDetails:    resp.ErrorDetails,
		TracksProcessed: resp.TracksProcessed,
	}, nil
}
