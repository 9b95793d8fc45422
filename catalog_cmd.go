package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and extend the local household and device records",
		Long: `The catalog holds the households and devices jobs can target. Cloud
households are mirrored by 'account link' and 'account refresh'; local ones
are added by hand and sync through the owner's default login.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "households",
		Short: "List catalog households",
		Args:  cobra.NoArgs,
		RunE:  runCatalogHouseholds,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "devices [household-id]",
		Short: "List catalog devices",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogDevices,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add-household <name> <cloud-household-id>",
		Short: "Add a local household",
		Args:  cobra.ExactArgs(2),
		RunE:  runCatalogAddHousehold,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add-device <household-id> <cloud-device-id> <name>",
		Short: "Add a device to a local household",
		Args:  cobra.ExactArgs(3),
		RunE:  runCatalogAddDevice,
	})

	return cmd
}

func runCatalogHouseholds(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	households, err := s.Catalog.ListHouseholds(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, households)
	}

	rows := make([][]string, 0, len(households))
	for _, h := range households {
		rows = append(rows, []string{h.ID, h.Name, h.RemoteID, h.Access, h.Origin})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "CLOUD ID", "ACCESS", "ORIGIN"}, rows)

	return nil
}

func runCatalogDevices(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	household := ""
	if len(args) == 1 {
		household = args[0]
	}

	devices, err := s.Catalog.ListDevices(cmd.Context(), household)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, devices)
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.ID, d.Name, d.RemoteID, d.HouseholdID, d.Origin})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "CLOUD ID", "HOUSEHOLD", "ORIGIN"}, rows)

	return nil
}

func runCatalogAddHousehold(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.Catalog.AddLocalHousehold(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, h)
	}

	statusf("Added household %s (%s)\n", h.Name, h.ID)

	return nil
}

func runCatalogAddDevice(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.Catalog.AddLocalDevice(cmd.Context(), args[0], args[1], args[2])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, d)
	}

	statusf("Added device %s (%s)\n", d.Name, d.ID)

	return nil
}
