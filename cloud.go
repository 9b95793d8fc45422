package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/tonies"
)

// Live reads against the Tonies cloud. They never touch the catalog.

func newHouseholdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "households",
		Short: "List households in the Tonies cloud",
		Args:  cobra.NoArgs,
		RunE:  runHouseholds,
	}
	cmd.Flags().String("account", "", "credential id (default: the owner's default login)")

	return cmd
}

func newDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices <household-id>",
		Short: "List the Creative Tonies of a cloud household",
		Args:  cobra.ExactArgs(1),
		RunE:  runDevices,
	}
	cmd.Flags().String("account", "", "credential id (default: the owner's default login)")

	return cmd
}

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device <household-id> <device-id>",
		Short: "Show a Creative Tonie and its chapters",
		Args:  cobra.ExactArgs(2),
		RunE:  runDevice,
	}
	cmd.Flags().String("account", "", "credential id (default: the owner's default login)")

	return cmd
}

func cloudSession(cmd *cobra.Command) (*Session, tonies.Account, error) {
	id, err := cmd.Flags().GetString("account")
	if err != nil {
		return nil, tonies.Account{}, err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return nil, tonies.Account{}, err
	}

	_, acct, err := s.account(cmd.Context(), id)
	if err != nil {
		s.Close()
		return nil, tonies.Account{}, err
	}

	return s, acct, nil
}

func runHouseholds(cmd *cobra.Command, _ []string) error {
	s, acct, err := cloudSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	households, err := s.Cloud.ListHouseholds(cmd.Context(), acct)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, households)
	}

	rows := make([][]string, 0, len(households))
	for _, h := range households {
		rows = append(rows, []string{h.ID, h.Name, h.Access})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "ACCESS"}, rows)

	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	s, acct, err := cloudSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	devices, err := s.Cloud.ListDevices(cmd.Context(), acct, args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, devices)
	}

	rows := make([][]string, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		rows = append(rows, []string{
			d.ID, d.Name,
			strconv.Itoa(d.ChaptersPresent),
			formatDuration(d.SecondsRemaining),
		})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "CHAPTERS", "TIME LEFT"}, rows)

	return nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	s, acct, err := cloudSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.Cloud.DeviceDetail(cmd.Context(), acct, args[0], args[1])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, d)
	}

	fmt.Printf("%s (%s)\n", d.Name, d.ID)
	fmt.Printf("  %d chapter(s), %s used, %s left\n",
		d.ChaptersPresent, formatDuration(d.SecondsPresent), formatDuration(d.SecondsRemaining))

	if d.Transcoding {
		fmt.Println("  transcoding in progress")
	}

	if len(d.Chapters) == 0 {
		return nil
	}

	fmt.Println()

	rows := make([][]string, 0, len(d.Chapters))
	for i, c := range d.Chapters {
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Title, formatDuration(c.Seconds), c.File})
	}

	printTable(os.Stdout, []string{"#", "TITLE", "LENGTH", "FILE"}, rows)

	return nil
}
