package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/sirupsen/logrus"
)

// PostPool is the due-item pool scheduled posts wait in.
type PostPool interface {
	Add(ctx context.Context, id string, dueMillis int64) error
	Remove(ctx context.Context, ids ...string) error
}

type PostService interface {
	Schedule(ctx context.Context, req *transfer.ScheduleRequest) (int64, error)
	Remove(ctx context.Context, userID, collectionID int64) error
	History(ctx context.Context, postID int64) ([]*models.PostingHistory, error)
}

type postService struct {
	db   *sql.DB
	pr   repository.PostRepository
	mr   repository.MediaRepository
	cr   repository.CredentialRepository
	hr   repository.PostingHistoryRepository
	pool PostPool
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	mr repository.MediaRepository,
	cr repository.CredentialRepository,
	hr repository.PostingHistoryRepository,
	pool PostPool) PostService {
	return &postService{
		db:   db,
		pr:   pr,
		mr:   mr,
		cr:   cr,
		hr:   hr,
		pool: pool,
	}
}

// Schedule stores the collection, its media and one post per account in a
// single transaction, then adds every post to the pool at the scheduled time.
func (s *postService) Schedule(ctx context.Context, req *transfer.ScheduleRequest) (int64, error) {
	if err := validateSchedule(req); err != nil {
		logrus.Info(err.Error())
		return 0, err
	}
	kind := models.ContentKind(strings.ToUpper(req.ContentKind))

	credentials := make([]*models.Credential, 0, len(req.CredentialIDs))
	for _, id := range req.CredentialIDs {
		c, err := s.cr.GetByID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("error checking credential %d: %w", id, err)
		}
		if c == nil || c.UserID != req.UserID {
			return 0, fmt.Errorf("%w: %d", ErrCredentialNotFound, id)
		}
		credentials = append(credentials, c)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	collection := &models.PostCollection{
		UserID:         req.UserID,
		Title:          req.Title,
		Description:    req.Description,
		Kind:           kind,
		ScheduledTime:  req.ScheduledTime.UTC(),
		PlatformConfig: req.PlatformConfig,
	}
	collectionID, err := s.pr.CreateCollection(ctx, tx, collection)
	if err != nil {
		return 0, fmt.Errorf("error creating collection: %w", err)
	}

	for i, ref := range req.Media {
		_, err = s.mr.Create(ctx, tx, &models.Media{
			CollectionID: collectionID,
			Key:          ref.Key,
			MimeType:     ref.MimeType,
			Size:         ref.Size,
			DisplayOrder: i,
		})
		if err != nil {
			return 0, fmt.Errorf("error saving media %s: %w", ref.Key, err)
		}
	}

	postIDs := make([]int64, 0, len(credentials))
	for _, c := range credentials {
		var postID int64
		postID, err = s.pr.Create(ctx, tx, &models.Post{
			CollectionID:      collectionID,
			CredentialID:      c.ID,
			Provider:          c.Provider,
			ProviderAccountID: c.ProviderAccountID,
			Kind:              kind,
			Status:            models.PostStatusScheduled,
			ScheduledTime:     collection.ScheduledTime,
		})
		if err != nil {
			return 0, fmt.Errorf("error creating post for credential %d: %w", c.ID, err)
		}
		postIDs = append(postIDs, postID)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	due := collection.ScheduledTime.UnixMilli()
	for _, id := range postIDs {
		if poolErr := s.pool.Add(ctx, strconv.FormatInt(id, 10), due); poolErr != nil {
			s.compensate(ctx, collectionID, postIDs)
			return 0, fmt.Errorf("error scheduling post %d: %w", id, poolErr)
		}
	}

	return collectionID, nil
}

// compensate undoes a schedule whose posts could not all reach the pool.
func (s *postService) compensate(ctx context.Context, collectionID int64, postIDs []int64) {
	log := logrus.WithField("collection_id", collectionID)
	if err := s.pool.Remove(ctx, poolIDs(postIDs)...); err != nil {
		log.WithError(err).Warn("could not clear pool entries")
	}
	if err := s.pr.RemoveCollection(ctx, collectionID); err != nil {
		log.WithError(err).Error("could not remove unscheduled collection")
	}
}

func validateSchedule(req *transfer.ScheduleRequest) error {
	if req == nil {
		return fmt.Errorf("%w: schedule request is nil", ErrInvalidPost)
	}
	if req.UserID == 0 {
		return fmt.Errorf("%w: user is required", ErrInvalidPost)
	}
	if req.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidPost)
	}
	if len(req.CredentialIDs) == 0 {
		return fmt.Errorf("%w: no accounts selected", ErrInvalidPost)
	}
	seen := make(map[int64]struct{}, len(req.CredentialIDs))
	for _, id := range req.CredentialIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: account %d selected twice", ErrInvalidPost, id)
		}
		seen[id] = struct{}{}
	}

	for _, m := range req.Media {
		if m.Key == "" || m.Size <= 0 {
			return fmt.Errorf("%w: media reference is incomplete", ErrInvalidPost)
		}
	}

	switch models.ContentKind(strings.ToUpper(req.ContentKind)) {
	case models.ContentKindText:
		if strings.TrimSpace(req.Description) == "" {
			return fmt.Errorf("%w: text post without text", ErrInvalidPost)
		}
	case models.ContentKindImage:
		if len(req.Media) == 0 {
			return fmt.Errorf("%w: image post without images", ErrInvalidPost)
		}
		for _, m := range req.Media {
			if !strings.HasPrefix(m.MimeType, "image/") {
				return fmt.Errorf("%w: %s in image post", ErrInvalidPost, m.MimeType)
			}
		}
	case models.ContentKindVideo:
		if len(req.Media) != 1 || !strings.HasPrefix(req.Media[0].MimeType, "video/") {
			return fmt.Errorf("%w: video post needs exactly one video", ErrInvalidPost)
		}
	default:
		return fmt.Errorf("%w: content kind %q", ErrInvalidPost, req.ContentKind)
	}
	return nil
}

// Remove takes the collection's posts out of the pool before deleting it, so
// a scanner can no longer claim them.
func (s *postService) Remove(ctx context.Context, userID, collectionID int64) error {
	pc, err := s.pr.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if pc == nil || pc.UserID != userID {
		return fmt.Errorf("%w: collection %d not found", ErrInvalidPost, collectionID)
	}

	posts, err := s.pr.ListByCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		if err := s.pool.Remove(ctx, poolIDs(ids)...); err != nil {
			return fmt.Errorf("error unscheduling collection %d: %w", collectionID, err)
		}
	}

	return s.pr.RemoveCollection(ctx, collectionID)
}

func (s *postService) History(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	history, err := s.hr.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []*models.PostingHistory{}
	}
	return history, nil
}

func poolIDs(ids []int64) []string {
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatInt(id, 10)
	}
	return members
}
