package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/sirupsen/logrus"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) (int64, error)
	ListByPost(ctx context.Context, postID int64) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	query := `
		INSERT INTO posting_history (user_id, post_id, credential_id, status, stage, error_message, reauth_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		ph.UserID, ph.PostID, ph.CredentialID, ph.Status, ph.Stage, ph.ErrorMessage, ph.ReauthRequired,
	).Scan(&id)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postingHistoryRepository) ListByPost(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	query := `
		SELECT id, user_id, post_id, credential_id, status, stage, error_message, reauth_required, created_at
		FROM posting_history
		WHERE post_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		logrus.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	var phs []*models.PostingHistory
	for rows.Next() {
		var ph models.PostingHistory
		err := rows.Scan(&ph.ID, &ph.UserID, &ph.PostID, &ph.CredentialID, &ph.Status, &ph.Stage,
			&ph.ErrorMessage, &ph.ReauthRequired, &ph.CreatedAt)
		if err != nil {
			logrus.Error(err.Error())
			return nil, err
		}
		phs = append(phs, &ph)
	}

	return phs, rows.Err()
}
