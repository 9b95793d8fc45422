package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/tonimelisma/tonies-go/internal/adapter"
	"github.com/tonimelisma/tonies-go/internal/catalog"
	"github.com/tonimelisma/tonies-go/internal/config"
	"github.com/tonimelisma/tonies-go/internal/credential"
	"github.com/tonimelisma/tonies-go/internal/jobs"
	"github.com/tonimelisma/tonies-go/internal/media"
	"github.com/tonimelisma/tonies-go/internal/s3post"
	"github.com/tonimelisma/tonies-go/internal/store"
	"github.com/tonimelisma/tonies-go/internal/tonies"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// Session holds the opened state database and every service built on it
// for a single command invocation.
type Session struct {
	Cfg     *config.Resolved
	Logger  *slog.Logger
	DB      *sql.DB
	HTTP    *http.Client
	Tokens  *tonies.TokenCache
	Cloud   *tonies.Client
	Creds   *credential.Service
	Catalog *catalog.Store
	Media   *media.Registry
	Jobs    *jobs.Store
	Orch    *jobs.Orchestrator

	closers []func()
}

// openSession opens the state database, unlocks the credential vault and
// wires the cloud client, media providers and orchestrator from resolvedCfg.
func openSession(ctx context.Context) (*Session, error) {
	cfg := resolvedCfg
	if cfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{Cfg: cfg, Logger: logger, closers: []func(){closeLog}}

	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) open(ctx context.Context) error {
	cfg := s.Cfg

	db, err := store.Open(ctx, cfg.Store.Path, s.Logger)
	if err != nil {
		return err
	}

	s.DB = db
	s.closers = append(s.closers, func() { db.Close() })

	pass, err := vaultPassphrase()
	if err != nil {
		return err
	}

	v, err := credential.OpenVault(ctx, db, pass)
	if err != nil {
		return err
	}

	ua := userAgent(cfg)
	s.HTTP = newHTTPClient(cfg.ConnectTimeout())

	var limiter *s3post.BandwidthLimiter
	if bps := cfg.BandwidthBytes(); bps > 0 {
		limiter = s3post.NewBandwidthLimiter(bps, s.Logger)
	}

	s.Tokens = tonies.NewTokenCache(cfg.API.TokenURL, cfg.API.ClientID, s.HTTP, cfg.TokenExpiryBuffer(), s.Logger)
	s.Cloud = tonies.NewClient(cfg.API.BaseURL, s.HTTP, s.Tokens,
		s3post.NewUploader(s.HTTP, limiter, s.Logger, ua), s.Logger, ua)
	s.Cloud.SetMaxRetries(cfg.Sync.MaxRetries)

	s.Creds = credential.NewService(db, v, s.Tokens, cfg.Sync.AuditCredentialAccess, s.Logger)
	s.Catalog = catalog.NewStore(db, s.Logger)

	s.Media, err = buildRegistry(ctx, cfg, db, s.HTTP, ua)
	if err != nil {
		return err
	}

	s.Jobs = jobs.NewStore(db, s.Logger)

	var syncer jobs.Syncer = jobs.NewDirectSyncer(s.Creds, s.Media, s.Cloud, s.Logger)
	if cfg.Sync.Mode == config.ModeAdapter {
		syncer = jobs.NewAdapterSyncer(adapter.NewClient(cfg.Adapter.URL, s.HTTP, ua), s.Media, cfg.SourceURLTTL())
	}

	s.Orch = jobs.NewOrchestrator(s.Jobs, s.Catalog, syncer, cfg.Sync.ParallelJobs, s.Logger)

	return nil
}

// buildRegistry registers the database and http providers plus every
// provider the config gives settings for.
func buildRegistry(
	ctx context.Context, cfg *config.Resolved, db *sql.DB, httpClient *http.Client, ua string,
) (*media.Registry, error) {
	providers := []media.Provider{media.NewDatabase(db), media.NewHTTP(httpClient, ua)}

	if root := cfg.Storage.Filesystem.Root; root != "" {
		providers = append(providers, media.NewFilesystem(root))
	}

	if sc := cfg.Storage.S3; sc.Bucket != "" {
		p, err := media.NewS3(ctx, media.S3Options{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			Prefix:          sc.Prefix,
			UsePathStyle:    sc.UsePathStyle,
		}, httpClient)
		if err != nil {
			return nil, err
		}

		providers = append(providers, p)
	}

	if gc := cfg.Storage.GDrive; gc.FolderID != "" {
		p, err := media.NewGDrive(ctx, media.GDriveOptions{
			FolderID:        gc.FolderID,
			CredentialsFile: gc.CredentialsFile,
			Endpoint:        gc.Endpoint,
		}, nil)
		if err != nil {
			return nil, err
		}

		providers = append(providers, p)
	}

	return media.NewRegistry(media.Kind(cfg.Storage.Default), providers...)
}

// vaultPassphrase reads the vault key from the environment, or prompts for
// it when stdin is a terminal.
func vaultPassphrase() (string, error) {
	if key := config.ReadEnvOverrides().VaultKey; key != "" {
		return key, nil
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("vault key not set: export %s or run interactively", config.EnvVaultKey)
	}

	return promptSecret("Vault passphrase: ")
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", prompt, err)
	}

	if len(b) == 0 {
		return "", errors.New("empty input")
	}

	return string(b), nil
}

// account returns the credential to act as: id when given, otherwise the
// owner's default.
func (s *Session) account(ctx context.Context, id string) (*credential.Credential, tonies.Account, error) {
	var (
		cred *credential.Credential
		err  error
	)

	if id == "" {
		cred, err = s.Creds.Default(ctx, s.Cfg.Account.Owner)
		if err != nil {
			return nil, tonies.Account{}, fmt.Errorf("%w (link one with 'tonies-go account link')", err)
		}
	} else {
		cred, err = s.Creds.Get(ctx, id)
		if err != nil {
			return nil, tonies.Account{}, err
		}
	}

	acct, err := s.Creds.Account(ctx, cred.ID)
	if err != nil {
		return nil, tonies.Account{}, err
	}

	return cred, acct, nil
}

// lockPath is the single-instance lock for commands that run jobs.
func (s *Session) lockPath() string {
	return filepath.Join(filepath.Dir(s.Cfg.Store.Path), "sync.pid")
}

// Close releases everything the session opened, newest first.
func (s *Session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}

	s.closers = nil
}
