package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/jobs"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push content onto Creative Tonies",
		Long: `Every push is a sync job: recorded as pending, moved to in_progress, and
finished as completed or failed with the reason. Jobs left unfinished by a
previous process are marked failed when a sync command starts.`,
	}

	cmd.PersistentFlags().String("mode", "", "sync mode: direct or adapter (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "run <device-id> <content-id>",
		Short: "Append one content item to one device",
		Args:  cobra.ExactArgs(2),
		RunE:  runSyncRun,
	})

	batch := &cobra.Command{
		Use:   "batch <content-id> <device-id>...",
		Short: "Append one content item to several devices concurrently",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSyncBatch,
	}
	batch.Flags().Int("parallel", 0, "jobs to run at once (default from config)")
	cmd.AddCommand(batch)

	cmd.AddCommand(newSyncWatchCmd())

	return cmd
}

// openSyncSession opens a session for a command that runs jobs. It takes
// the single-instance lock, then fails jobs a crashed process left behind.
func openSyncSession(ctx context.Context) (*Session, error) {
	s, err := openSession(ctx)
	if err != nil {
		return nil, err
	}

	release, err := acquireLock(s.lockPath())
	if err != nil {
		s.Close()
		return nil, err
	}

	s.closers = append(s.closers, release)

	n, err := s.Jobs.RecoverInterrupted(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if n > 0 {
		statusf("Marked %d interrupted job(s) as failed\n", n)
	}

	return s, nil
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSyncSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = shutdownContext(ctx, s.Logger)

	job, err := s.Orch.ExecuteSync(ctx, args[0], args[1], s.Cfg.Account.Owner)
	if err != nil {
		return err
	}

	return reportJobs([]*jobs.SyncJob{job})
}

func runSyncBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSyncSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = shutdownContext(ctx, s.Logger)

	results, batchErr := s.Orch.ExecuteBatch(ctx, args[0], args[1:], s.Cfg.Account.Owner)

	return errors.Join(batchErr, reportJobs(finished(results)))
}

// finished drops the nil entries ExecuteBatch leaves for unknown devices.
func finished(results []*jobs.SyncJob) []*jobs.SyncJob {
	var done []*jobs.SyncJob

	for _, j := range results {
		if j != nil {
			done = append(done, j)
		}
	}

	return done
}

func newSyncWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir> <device-id>...",
		Short: "Push audio files dropped into a folder to devices",
		Long: `Watch a folder and, once a new audio file has stopped changing, add it
as content and push it to every listed device. Files whose jobs all complete
are moved into a "synced" subfolder unless --keep is set.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runSyncWatch,
	}

	cmd.Flags().Duration("settle", defaultSettle, "quiet period before a new file is picked up")
	cmd.Flags().Bool("keep", false, "leave synced files in place")
	cmd.Flags().Int("parallel", 0, "jobs to run at once (default from config)")

	return cmd
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	settle, err := cmd.Flags().GetDuration("settle")
	if err != nil {
		return err
	}

	keep, err := cmd.Flags().GetBool("keep")
	if err != nil {
		return err
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	ctx := cmd.Context()

	s, err := openSyncSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = shutdownContext(ctx, s.Logger)
	devices := args[1:]

	folder := newDropFolder(dir, settle, func(ctx context.Context, path string) error {
		return pushDropped(ctx, s, path, devices, keep)
	}, s.Logger)

	statusf("Watching %s (Ctrl-C to stop)\n", dir)

	return folder.Run(ctx)
}

// pushDropped adds a dropped file as content and syncs it to devices.
func pushDropped(ctx context.Context, s *Session, path string, devices []string, keep bool) error {
	c, err := ingestFile(ctx, s, path, "")
	if err != nil {
		return err
	}

	results, batchErr := s.Orch.ExecuteBatch(ctx, c.ID, devices, s.Cfg.Account.Owner)
	if err := errors.Join(batchErr, reportJobs(finished(results))); err != nil {
		return err
	}

	if keep {
		return nil
	}

	return moveToSynced(path)
}

const syncedDirName = "synced"

func moveToSynced(path string) error {
	dest := filepath.Join(filepath.Dir(path), syncedDirName)
	if err := os.MkdirAll(dest, lockDirPermissions); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	if err := os.Rename(path, filepath.Join(dest, filepath.Base(path))); err != nil {
		return fmt.Errorf("moving %s: %w", path, err)
	}

	return nil
}

// reportJobs prints finished jobs and returns an error if any failed.
func reportJobs(list []*jobs.SyncJob) error {
	if flagJSON {
		out := make([]jobJSON, 0, len(list))
		for _, j := range list {
			out = append(out, toJobJSON(j))
		}

		if err := printJSON(os.Stdout, out); err != nil {
			return err
		}
	}

	failed := 0

	for _, j := range list {
		if j.Status == jobs.StatusFailed {
			failed++

			if !flagJSON {
				statusf("Job %s failed: %s\n", j.ID, derefOr(j.ErrorMessage, "unknown error"))
			}

			continue
		}

		if !flagJSON {
			statusf("Job %s %s\n", j.ID, j.Status)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", failed, len(list))
	}

	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}

	return *s
}
