package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/catalog"
)

const cancelledPrefix = "cancelled: "

// Resolver looks up the records a job refers to.
type Resolver interface {
	ResolveDevice(ctx context.Context, id string) (*catalog.DeviceRef, error)
	ResolveContent(ctx context.Context, id string) (*catalog.ContentRef, error)
}

// Orchestrator runs sync jobs and records their outcome.
type Orchestrator struct {
	store    *Store
	resolver Resolver
	syncer   Syncer
	parallel int
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. parallel bounds how many jobs a
// batch runs at once.
func NewOrchestrator(store *Store, resolver Resolver, syncer Syncer, parallel int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	if parallel < 1 {
		parallel = 1
	}

	return &Orchestrator{store: store, resolver: resolver, syncer: syncer, parallel: parallel, logger: logger}
}

// ExecuteSync pushes one content item to one device. Unknown devices or
// content fail before any job is recorded. Otherwise the returned job is
// always terminal: remote failures, errors and cancellation all end as
// failed with a message, and the error return stays nil. A panic inside the
// syncer fails the job and is then re-raised.
func (o *Orchestrator) ExecuteSync(ctx context.Context, deviceID, contentID, requestedBy string) (*SyncJob, error) {
	device, err := o.resolver.ResolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	content, err := o.resolver.ResolveContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	job := &SyncJob{
		ID:          uuid.NewString(),
		HouseholdID: device.HouseholdID,
		DeviceID:    device.ID,
		ContentID:   content.ID,
		RequestedBy: requestedBy,
		JobType:     JobTypeAudioSync,
	}

	if err := o.store.Insert(ctx, job); err != nil {
		return nil, err
	}

	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("device_id", device.ID),
		slog.String("content_id", content.ID),
	)

	o.run(ctx, logger, job, Target{Device: *device, RequestedBy: requestedBy},
		[]Track{{ContentID: content.ID, Title: content.Title, Locator: content.Locator}})

	final, err := o.store.Get(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, err
	}

	if !final.Status.Terminal() {
		return final, fmt.Errorf("jobs: %s left %s", job.ID, final.Status)
	}

	return final, nil
}

// run drives a pending job to a terminal state. Terminal writes use a
// context detached from ctx so cancellation cannot strand the job.
func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, job *SyncJob, target Target, tracks []Track) {
	terminal := context.WithoutCancel(ctx)
	finished := false

	defer func() {
		if finished {
			return
		}

		r := recover()
		if r == nil {
			o.finish(terminal, logger, job.ID, false, "aborted before the job finished")
			return
		}

		o.finish(terminal, logger, job.ID, false, fmt.Sprintf("panic: %v", r))
		panic(r)
	}()

	ok, msg := o.attempt(ctx, logger, job.ID, target, tracks)
	finished = true

	o.finish(terminal, logger, job.ID, ok, msg)
}

func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, id string, target Target, tracks []Track) (bool, string) {
	if _, err := o.store.Start(ctx, id); err != nil {
		return false, failureMessage(ctx, err)
	}

	logger.Info("sync job started")

	res, err := o.syncer.Sync(ctx, target, tracks)
	if err != nil {
		return false, failureMessage(ctx, err)
	}

	if res.Success {
		return true, ""
	}

	detail := res.ErrorDetails
	if detail == "" {
		detail = res.Message
	}

	if detail == "" {
		detail = "sync failed"
	}

	if ctx.Err() != nil {
		detail = cancelledPrefix + detail
	}

	return false, detail
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, id string, ok bool, msg string) {
	if ok {
		_, err := o.store.Complete(ctx, id)
		if err == nil {
			logger.Info("sync job completed")
			return
		}

		msg = "recording completion: " + err.Error()
	}

	if _, err := o.store.Fail(ctx, id, msg); err != nil {
		logger.Error("recording job failure", slog.String("error", err.Error()))
		return
	}

	logger.Warn("sync job failed", slog.String("error", msg))
}

func failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, apperr.ErrCancelled) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelledPrefix + err.Error()
	}

	return err.Error()
}

// ExecuteBatch syncs one content item to several devices concurrently,
// one job per distinct device. Jobs line up with the deduplicated device
// list; a device that could not be resolved has a nil entry and its error
// is joined into the returned error.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, contentID string, deviceIDs []string, requestedBy string) ([]*SyncJob, error) {
	var unique []string

	seen := make(map[string]bool, len(deviceIDs))

	for _, id := range deviceIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	if len(unique) == 0 {
		return nil, apperr.Invalid("jobs: no devices given")
	}

	jobs := make([]*SyncJob, len(unique))
	errs := make([]error, len(unique))

	var g errgroup.Group

	g.SetLimit(o.parallel)

	for i, id := range unique {
		g.Go(func() error {
			jobs[i], errs[i] = o.ExecuteSync(ctx, id, contentID, requestedBy)
			return nil
		})
	}

	g.Wait() //nolint:errcheck // per-device errors are collected in errs

	return jobs, errors.Join(errs...)
}

// GetJob returns one job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*SyncJob, error) {
	return o.store.Get(ctx, id)
}

// ListJobs returns a household's jobs, most recent first. A limit of zero
// or less means DefaultListLimit.
func (o *Orchestrator) ListJobs(ctx context.Context, householdID string, limit int) ([]SyncJob, error) {
	return o.store.List(ctx, householdID, limit)
}
