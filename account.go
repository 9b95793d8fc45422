package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/credential"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage linked Tonies logins",
	}

	link := &cobra.Command{
		Use:   "link <username>",
		Short: "Verify a Tonies login and store it encrypted",
		Long: `Authenticate against the Tonies cloud and store the login encrypted in
the local vault. The owner's first login becomes the default. Households and
devices visible to the login are mirrored into the catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: runAccountLink,
	}
	link.Flags().String("label", "", "display label")
	link.Flags().Bool("password-stdin", false, "read the password from stdin")

	cmd.AddCommand(link)
	cmd.AddCommand(&cobra.Command{
		Use:   "unlink <credential-id>",
		Short: "Remove a login and the households mirrored through it",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountUnlink,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List linked logins",
		Args:  cobra.NoArgs,
		RunE:  runAccountList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default <credential-id>",
		Short: "Make a login the default",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountDefault,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh [credential-id]",
		Short: "Re-authenticate and re-mirror households and devices",
		Long:  "Refresh one login, or every login of the owner when no id is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAccountRefresh,
	})

	return cmd
}

func runAccountLink(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	label, err := cmd.Flags().GetString("label")
	if err != nil {
		return err
	}

	fromStdin, err := cmd.Flags().GetBool("password-stdin")
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var password string
	if fromStdin {
		password, err = readLine(cmd.InOrStdin())
	} else {
		password, err = promptSecret("Tonies password: ")
	}

	if err != nil {
		return err
	}

	cred, err := s.Creds.Link(ctx, s.Cfg.Account.Owner, args[0], password, label)
	if err != nil {
		return err
	}

	statusf("Linked %s (%s)\n", cred.Username, cred.ID)

	return refreshCredential(ctx, s, cred)
}

func runAccountUnlink(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Creds.Unlink(cmd.Context(), args[0]); err != nil {
		return err
	}

	statusf("Unlinked %s\n", args[0])

	return nil
}

type accountJSON struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	Label               string `json:"label,omitempty"`
	Default             bool   `json:"default"`
	LastAuthenticatedAt string `json:"last_authenticated_at,omitempty"`
}

func runAccountList(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	creds, err := s.Creds.List(cmd.Context(), s.Cfg.Account.Owner)
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]accountJSON, 0, len(creds))
		for i := range creds {
			c := &creds[i]
			item := accountJSON{ID: c.ID, Username: c.Username, Label: c.Label, Default: c.IsDefault}

			if c.LastAuthenticatedAt != nil {
				item.LastAuthenticatedAt = c.LastAuthenticatedAt.UTC().Format(timeLayoutJSON)
			}

			out = append(out, item)
		}

		return printJSON(os.Stdout, out)
	}

	if len(creds) == 0 {
		statusf("No linked accounts.\n")
		return nil
	}

	rows := make([][]string, 0, len(creds))
	for i := range creds {
		c := &creds[i]

		mark := ""
		if c.IsDefault {
			mark = "*"
		}

		rows = append(rows, []string{mark, c.ID, c.Username, c.Label, formatTimePtr(c.LastAuthenticatedAt)})
	}

	printTable(os.Stdout, []string{"", "ID", "USERNAME", "LABEL", "LAST AUTH"}, rows)

	return nil
}

func runAccountDefault(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Creds.SetDefault(cmd.Context(), s.Cfg.Account.Owner, args[0]); err != nil {
		return err
	}

	statusf("Default account is now %s\n", args[0])

	return nil
}

func runAccountRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var ids []string

	if len(args) == 1 {
		ids = args
	} else {
		creds, err := s.Creds.List(ctx, s.Cfg.Account.Owner)
		if err != nil {
			return err
		}

		for i := range creds {
			ids = append(ids, creds[i].ID)
		}
	}

	var errs []error

	for _, id := range ids {
		cred, err := s.Creds.Reauthenticate(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := refreshCredential(ctx, s, cred); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// refreshCredential mirrors the households and devices a login can see.
func refreshCredential(ctx context.Context, s *Session, cred *credential.Credential) error {
	acct, err := s.Creds.Account(ctx, cred.ID)
	if err != nil {
		return err
	}

	stats, err := s.Catalog.Refresh(ctx, s.Cloud, cred.ID, acct)
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", cred.Username, err)
	}

	statusf("%s: %d household(s), %d device(s)", cred.Username, stats.Households, stats.Devices)

	if stats.PrunedHouseholds+stats.PrunedDevices > 0 {
		statusf(", removed %d household(s) and %d device(s)", stats.PrunedHouseholds, stats.PrunedDevices)
	}

	statusf("\n")

	return nil
}

// readLine reads one line, without its terminator, from r.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading stdin: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}

	return line, nil
}
