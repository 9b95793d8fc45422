package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/jobs"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect sync job history",
	}

	list := &cobra.Command{
		Use:   "list <household-id>",
		Short: "List a household's jobs, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsList,
	}
	list.Flags().Int("limit", jobs.DefaultListLimit, "maximum jobs to show")

	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsShow,
	})

	return cmd
}

type jobJSON struct {
	ID           string `json:"id"`
	HouseholdID  string `json:"household_id"`
	DeviceID     string `json:"device_id"`
	ContentID    string `json:"content_id"`
	RequestedBy  string `json:"requested_by,omitempty"`
	Status       string `json:"status"`
	JobType      string `json:"job_type"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	StartedAt    string `json:"started_at,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

func toJobJSON(j *jobs.SyncJob) jobJSON {
	out := jobJSON{
		ID:           j.ID,
		HouseholdID:  j.HouseholdID,
		DeviceID:     j.DeviceID,
		ContentID:    j.ContentID,
		RequestedBy:  j.RequestedBy,
		Status:       string(j.Status),
		JobType:      j.JobType,
		ErrorMessage: derefOr(j.ErrorMessage, ""),
		CreatedAt:    j.CreatedAt.UTC().Format(timeLayoutJSON),
	}

	if j.StartedAt != nil {
		out.StartedAt = j.StartedAt.UTC().Format(timeLayoutJSON)
	}

	if j.CompletedAt != nil {
		out.CompletedAt = j.CompletedAt.UTC().Format(timeLayoutJSON)
	}

	return out
}

func runJobsList(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.Orch.ListJobs(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]jobJSON, 0, len(list))
		for i := range list {
			out = append(out, toJobJSON(&list[i]))
		}

		return printJSON(os.Stdout, out)
	}

	if len(list) == 0 {
		statusf("No jobs for household %s\n", args[0])
		return nil
	}

	rows := make([][]string, 0, len(list))
	for i := range list {
		j := &list[i]
		rows = append(rows, []string{
			j.ID, j.DeviceID, j.ContentID, string(j.Status),
			formatTime(j.CreatedAt), derefOr(j.ErrorMessage, ""),
		})
	}

	printTable(os.Stdout, []string{"ID", "DEVICE", "CONTENT", "STATUS", "CREATED", "ERROR"}, rows)

	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	j, err := s.Orch.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, toJobJSON(j))
	}

	printTable(os.Stdout, []string{"FIELD", "VALUE"}, [][]string{
		{"id", j.ID},
		{"household", j.HouseholdID},
		{"device", j.DeviceID},
		{"content", j.ContentID},
		{"requested_by", j.RequestedBy},
		{"type", j.JobType},
		{"status", string(j.Status)},
		{"created", formatTime(j.CreatedAt)},
		{"started", formatTimePtr(j.StartedAt)},
		{"completed", formatTimePtr(j.CompletedAt)},
		{"error", derefOr(j.ErrorMessage, "")},
	})

	return nil
}
