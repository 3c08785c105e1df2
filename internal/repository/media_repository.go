package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/sirupsen/logrus"
)

type MediaRepository interface {
	Create(ctx context.Context, tx *sql.Tx, m *models.Media) (int64, error)
	ListByCollection(ctx context.Context, collectionID int64) ([]*models.Media, error)
}

type mediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) Create(ctx context.Context, tx *sql.Tx, m *models.Media) (int64, error) {
	query := `
		INSERT INTO media (collection_id, object_key, mime_type, size, display_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := conn(r.db, tx).QueryRowContext(ctx, query, m.CollectionID, m.Key, m.MimeType, m.Size, m.DisplayOrder).Scan(&id)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *mediaRepository) ListByCollection(ctx context.Context, collectionID int64) ([]*models.Media, error) {
	query := `
		SELECT id, collection_id, object_key, mime_type, size, display_order, created_at
		FROM media
		WHERE collection_id = $1
		ORDER BY display_order, id
	`

	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		logrus.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	var media []*models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.CollectionID, &m.Key, &m.MimeType, &m.Size, &m.DisplayOrder, &m.CreatedAt); err != nil {
			logrus.Error(err.Error())
			return nil, err
		}
		media = append(media, &m)
	}

	return media, rows.Err()
}
