package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
	"github.com/tonimelisma/tonies-go/internal/tonies"
	"github.com/tonimelisma/tonies-go/internal/vault"
)

// saltSettingKey names the settings row holding the vault's derivation salt.
const saltSettingKey = "vault.salt"

// Tokens is the part of the token cache the service needs.
type Tokens interface {
	Token(ctx context.Context, acct tonies.Account) (string, error)
	Invalidate(username string)
}

// Service links, unlinks and loads credentials.
type Service struct {
	db     *sql.DB
	vault  *vault.Vault
	tokens Tokens
	logger *slog.Logger

	// auditAccess stamps last_authenticated_at on every Account load, even
	// for read-only use.
	auditAccess bool

	nowFunc func() time.Time
}

// NewService creates a Service. auditAccess selects whether every account
// load counts as an authentication for last_authenticated_at.
func NewService(db *sql.DB, v *vault.Vault, tokens Tokens, auditAccess bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		db:          db,
		vault:       v,
		tokens:      tokens,
		logger:      logger,
		auditAccess: auditAccess,
		nowFunc:     time.Now,
	}
}

// OpenVault builds the vault from a passphrase, creating the derivation
// salt on first use.
func OpenVault(ctx context.Context, db *sql.DB, passphrase string) (*vault.Vault, error) {
	salt, err := store.SettingOrCreate(ctx, db, saltSettingKey, vault.NewSalt)
	if err != nil {
		return nil, err
	}

	key, err := vault.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return vault.New(key)
}

// Link verifies username and password against the cloud, then stores them.
// An owner's first credential becomes the default. Linking a username the
// owner already has replaces its password and label.
func (s *Service) Link(ctx context.Context, ownerID, username, password, label string) (*Credential, error) {
	username = strings.TrimSpace(username)

	if ownerID == "" || username == "" || password == "" {
		return nil, apperr.Invalid("credential: owner, username and password are required")
	}

	acct := tonies.Account{Username: username, Password: password}

	// Drop any cached token so a changed password is really checked.
	s.tokens.Invalidate(username)

	if _, err := s.tokens.Token(ctx, acct); err != nil {
		return nil, fmt.Errorf("credential: verifying %s: %w", username, err)
	}

	encrypted, err := s.vault.Protect(password)
	if err != nil {
		return nil, fmt.Errorf("credential: encrypting password: %w", err)
	}

	now := s.nowFunc()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: beginning link: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := getByUsername(ctx, tx, ownerID, username)
	if err != nil {
		return nil, err
	}

	var id string

	if existing != nil {
		id = existing.ID

		_, err = tx.ExecContext(ctx,
			`UPDATE credentials SET encrypted_password = ?, label = ?, last_authenticated_at = ? WHERE id = ?`,
			encrypted, label, store.Nanos(now), id)
	} else {
		id = uuid.NewString()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credentials (id, owner_id, username, encrypted_password, label, is_default,
				last_authenticated_at, created_at)
			 VALUES (?, ?, ?, ?, ?, NOT EXISTS (SELECT 1 FROM credentials WHERE owner_id = ?), ?, ?)`,
			id, ownerID, username, encrypted, label, ownerID, store.Nanos(now), store.Nanos(now))
	}

	if err != nil {
		return nil, fmt.Errorf("credential: saving %s: %w", username, err)
	}

	cred, err := getByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("credential: committing link: %w", err)
	}

	s.logger.Info("account linked",
		slog.String("credential_id", id),
		slog.String("username", username),
		slog.Bool("default", cred.IsDefault),
	)

	return cred, nil
}

// Unlink deletes a credential along with the households and devices
// mirrored through it. If it was the default, the owner's most recently
// linked remaining credential takes over.
func (s *Service) Unlink(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credential: beginning unlink: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cred, err := getByID(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("credential: deleting %s: %w", id, err)
	}

	if cred.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE credentials SET is_default = 1 WHERE id = (
				SELECT id FROM credentials WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1)`,
			cred.OwnerID); err != nil {
			return fmt.Errorf("credential: promoting new default: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credential: committing unlink: %w", err)
	}

	s.tokens.Invalidate(cred.Username)

	s.logger.Info("account unlinked",
		slog.String("credential_id", id),
		slog.String("username", cred.Username),
	)

	return nil
}

// SetDefault makes id the owner's default credential in one transaction.
func (s *Service) SetDefault(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credential: beginning default switch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cred, err := getByID(ctx, tx, id)
	if err != nil {
		return err
	}

	if cred.OwnerID != ownerID {
		return fmt.Errorf("credential: %s for owner %s: %w", id, ownerID, apperr.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_default = 0 WHERE owner_id = ? AND is_default = 1 AND id <> ?`,
		ownerID, id); err != nil {
		return fmt.Errorf("credential: clearing default: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET is_default = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("credential: setting default: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credential: committing default switch: %w", err)
	}

	s.logger.Info("default account changed", slog.String("credential_id", id))

	return nil
}

// Get returns one credential.
func (s *Service) Get(ctx context.Context, id string) (*Credential, error) {
	return getByID(ctx, s.db, id)
}

// List returns the owner's credentials, oldest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Credential, error) {
	return listByOwner(ctx, s.db, ownerID)
}

// Default returns the owner's default credential.
func (s *Service) Default(ctx context.Context, ownerID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, selectCols+`WHERE owner_id = ? AND is_default = 1`, ownerID)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential: no default account for %s: %w", ownerID, apperr.ErrNotFound)
		}

		return nil, err
	}

	return cred, nil
}

// Account decrypts a credential for use against the cloud. With access
// auditing enabled every load stamps last_authenticated_at.
func (s *Service) Account(ctx context.Context, id string) (tonies.Account, error) {
	cred, err := getByID(ctx, s.db, id)
	if err != nil {
		return tonies.Account{}, err
	}

	password, err := s.vault.Unprotect(cred.EncryptedPassword)
	if err != nil {
		return tonies.Account{}, fmt.Errorf("credential: decrypting %s: %w", id, err)
	}

	if s.auditAccess {
		if err := stampAuthenticated(ctx, s.db, id, s.nowFunc()); err != nil {
			return tonies.Account{}, err
		}
	}

	return tonies.Account{Username: cred.Username, Password: password}, nil
}

// Reauthenticate discards the cached token for a credential and performs a
// fresh password grant, stamping last_authenticated_at on success.
func (s *Service) Reauthenticate(ctx context.Context, id string) (*Credential, error) {
	acct, err := s.Account(ctx, id)
	if err != nil {
		return nil, err
	}

	s.tokens.Invalidate(acct.Username)

	if _, err := s.tokens.Token(ctx, acct); err != nil {
		return nil, fmt.Errorf("credential: re-authenticating %s: %w", acct.Username, err)
	}

	if err := stampAuthenticated(ctx, s.db, id, s.nowFunc()); err != nil {
		return nil, err
	}

	return getByID(ctx, s.db, id)
}
