package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ErrStaleCredential is returned by SetToken when another writer updated the
// credential after it was read.
var ErrStaleCredential = errors.New("credential was modified concurrently")

type CredentialRepository interface {
	Upsert(ctx context.Context, c *models.Credential) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Credential, error)
	ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Credential, error)
	SetToken(ctx context.Context, c *models.Credential) error
	// MarkRefreshFailed flags a credential whose scheduled refresh gave up.
	// Upsert and SetToken clear the flag.
	MarkRefreshFailed(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

// credentialRepository seals the access token and additional info on the way
// in and opens them on the way out.
type credentialRepository struct {
	db     *sql.DB
	sealer *utils.Sealer
}

func NewCredentialRepository(db *sql.DB, sealer *utils.Sealer) CredentialRepository {
	return &credentialRepository{db: db, sealer: sealer}
}

func (r *credentialRepository) seal(c *models.Credential) (string, []byte, error) {
	token, err := r.sealer.Seal(c.AccessToken)
	if err != nil {
		return "", nil, err
	}
	info, err := r.sealer.SealMap(c.AdditionalInfo)
	if err != nil {
		return "", nil, err
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return "", nil, err
	}
	return token, infoJSON, nil
}

func (r *credentialRepository) Upsert(ctx context.Context, c *models.Credential) (int64, error) {
	token, info, err := r.seal(c)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	query := `
		INSERT INTO credentials (user_id, provider, provider_account_id, account_name, access_token, expires_at_ms, expires_at, additional_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider, provider_account_id) DO UPDATE
		SET account_name = EXCLUDED.account_name,
			access_token = EXCLUDED.access_token,
			expires_at_ms = EXCLUDED.expires_at_ms,
			expires_at = EXCLUDED.expires_at,
			additional_info = EXCLUDED.additional_info,
			refresh_failed_at = NULL,
			version = credentials.version + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, version
	`

	err = r.db.QueryRowContext(ctx, query,
		c.UserID, string(c.Provider), c.ProviderAccountID, c.AccountName,
		token, c.ExpiresAtMillis, c.ExpiresAt, info,
	).Scan(&c.ID, &c.Version)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	return c.ID, nil
}

const credentialColumns = `id, user_id, provider, provider_account_id, account_name, access_token, expires_at_ms, expires_at, additional_info, version, refresh_failed_at, created_at, updated_at`

func (r *credentialRepository) scan(row interface{ Scan(...any) error }) (*models.Credential, error) {
	var c models.Credential
	var token string
	var info []byte
	var expiresAt, failedAt sql.NullTime

	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.ProviderAccountID, &c.AccountName,
		&token, &c.ExpiresAtMillis, &expiresAt, &info, &c.Version, &failedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time.UTC()
	}
	if failedAt.Valid {
		t := failedAt.Time.UTC()
		c.RefreshFailedAt = &t
	}

	if c.AccessToken, err = r.sealer.Open(token); err != nil {
		return nil, err
	}

	sealedInfo := map[string]string{}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &sealedInfo); err != nil {
			return nil, err
		}
	}
	if c.AdditionalInfo, err = r.sealer.OpenMap(sealedInfo); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *credentialRepository) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`

	c, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logrus.Error(err.Error())
		return nil, err
	}

	return c, nil
}

// ListExpiringBefore returns credentials whose expiry falls before the given
// instant, already expired ones included. Tokens without an expiry and
// credentials flagged by MarkRefreshFailed are skipped.
func (r *credentialRepository) ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE expires_at_ms > 0 AND expires_at_ms < $1 AND refresh_failed_at IS NULL ORDER BY expires_at_ms`

	rows, err := r.db.QueryContext(ctx, query, before.UnixMilli())
	if err != nil {
		logrus.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	var credentials []*models.Credential
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			logrus.Error(err.Error())
			return nil, err
		}
		credentials = append(credentials, c)
	}

	return credentials, rows.Err()
}

// SetToken writes a refreshed token back. The write only lands if the row is
// still at the version that was read; c.Version is advanced on success.
func (r *credentialRepository) SetToken(ctx context.Context, c *models.Credential) error {
	token, info, err := r.seal(c)
	if err != nil {
		logrus.Error(err.Error())
		return err
	}

	query := `
		UPDATE credentials
		SET access_token = $1,
			expires_at_ms = $2,
			expires_at = $3,
			additional_info = $4,
			refresh_failed_at = NULL,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $5 AND version = $6
	`
	result, err := r.db.ExecContext(ctx, query, token, c.ExpiresAtMillis, c.ExpiresAt, info, c.ID, c.Version)
	if err != nil {
		logrus.Error(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		logrus.Error(err.Error())
		return err
	}
	if affected != 1 {
		logrus.WithField("credential_id", c.ID).Warn(ErrStaleCredential.Error())
		return ErrStaleCredential
	}

	c.Version++
	return nil
}

func (r *credentialRepository) MarkRefreshFailed(ctx context.Context, id int64) error {
	query := `UPDATE credentials SET refresh_failed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		logrus.Error(err.Error())
		return err
	}
	return nil
}

func (r *credentialRepository) Remove(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		logrus.Error(err.Error())
		return err
	}
	return nil
}
