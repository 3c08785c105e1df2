package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/sirupsen/logrus"
)

type PostRepository interface {
	CreateCollection(ctx context.Context, tx *sql.Tx, pc *models.PostCollection) (int64, error)
	GetCollection(ctx context.Context, id int64) (*models.PostCollection, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByCollection(ctx context.Context, collectionID int64) ([]*models.Post, error)
	UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) (bool, error)
	RemoveCollection(ctx context.Context, collectionID int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) CreateCollection(ctx context.Context, tx *sql.Tx, pc *models.PostCollection) (int64, error) {
	query := `
		INSERT INTO post_collections (user_id, title, description, content_kind, scheduled_time, platform_config)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var platformConfig interface{}
	if len(pc.PlatformConfig) > 0 {
		platformConfig = []byte(pc.PlatformConfig)
	}

	var id int64
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		pc.UserID, pc.Title, pc.Description, string(pc.Kind), pc.ScheduledTime.UTC(), platformConfig,
	).Scan(&id)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetCollection(ctx context.Context, id int64) (*models.PostCollection, error) {
	query := `
		SELECT id, user_id, title, description, content_kind, scheduled_time, platform_config, created_at, updated_at
		FROM post_collections
		WHERE id = $1
	`

	var pc models.PostCollection
	var platformConfig []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&pc.ID, &pc.UserID, &pc.Title, &pc.Description, &pc.Kind,
		&pc.ScheduledTime, &platformConfig, &pc.CreatedAt, &pc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logrus.Error(err.Error())
		return nil, err
	}
	pc.PlatformConfig = platformConfig

	return &pc, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (collection_id, credential_id, provider, provider_account_id, content_kind, status, scheduled_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	status := post.Status
	if status == "" {
		status = models.PostStatusScheduled
	}

	var id int64
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		post.CollectionID, post.CredentialID, string(post.Provider), post.ProviderAccountID,
		string(post.Kind), string(status), post.ScheduledTime.UTC(),
	).Scan(&id)
	if err != nil {
		logrus.Error(err.Error())
		return 0, err
	}

	return id, nil
}

const postColumns = `id, collection_id, credential_id, provider, provider_account_id, content_kind, status, scheduled_time, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.CollectionID, &p.CredentialID, &p.Provider, &p.ProviderAccountID,
		&p.Kind, &p.Status, &p.ScheduledTime, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logrus.Error(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) ListByCollection(ctx context.Context, collectionID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE collection_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		logrus.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			logrus.Error(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

// UpdatePostStatus moves a SCHEDULED post to status. It reports false when the
// post had already left SCHEDULED, so a terminal status is never overwritten.
func (r *postRepository) UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), postID, string(models.PostStatusScheduled))
	if err != nil {
		logrus.Error(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		logrus.Error(err.Error())
		return false, err
	}
	return affected == 1, nil
}

// RemoveCollection deletes a collection together with the posts and media it owns.
func (r *postRepository) RemoveCollection(ctx context.Context, collectionID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logrus.Error(err.Error())
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM media WHERE collection_id = $1`,
		`DELETE FROM posts WHERE collection_id = $1`,
		`DELETE FROM post_collections WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, query, collectionID); err != nil {
			logrus.Error(err.Error())
			return err
		}
	}

	return tx.Commit()
}
