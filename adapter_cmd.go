package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/adapter"
	"github.com/tonimelisma/tonies-go/internal/media"
)

func newAdapterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Run or probe a sync adapter",
		Long: `A sync adapter accepts track lists over HTTP and pushes them to the Tonies
cloud as one linked login. Point sync.mode = "adapter" at it to keep cloud
credentials off the machine that queues jobs.`,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the adapter API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runAdapterServe,
	}
	serve.Flags().String("listen", "", "listen address (default from config)")

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that an adapter is reachable",
		Args:  cobra.NoArgs,
		RunE:  runAdapterHealth,
	}
	health.Flags().String("url", "", "adapter base URL (default from config)")

	cmd.AddCommand(serve, health)

	return cmd
}

func runAdapterServe(cmd *cobra.Command, _ []string) error {
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if listen == "" {
		listen = s.Cfg.Adapter.Listen
	}

	cred, acct, err := s.account(cmd.Context(), s.Cfg.Adapter.Credential)
	if err != nil {
		return err
	}

	s.Logger.Info("starting adapter",
		slog.String("listen", listen),
		slog.String("credential_id", cred.ID),
	)

	srv := adapter.NewServer(s.Cloud, acct, media.NewHTTP(s.HTTP, userAgent(s.Cfg)), s.Logger)

	return srv.ListenAndServe(shutdownContext(cmd.Context(), s.Logger), listen)
}

func runAdapterHealth(cmd *cobra.Command, _ []string) error {
	url, err := cmd.Flags().GetString("url")
	if err != nil {
		return err
	}

	if url == "" {
		url = resolvedCfg.Adapter.URL
	}

	if url == "" {
		return errors.New("no adapter URL: pass --url or set adapter.url")
	}

	c := adapter.NewClient(url, newHTTPClient(resolvedCfg.ConnectTimeout()), userAgent(resolvedCfg))
	if err := c.Health(cmd.Context()); err != nil {
		return err
	}

	statusf("Adapter at %s is healthy\n", url)

	return nil
}
