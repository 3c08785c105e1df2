package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/sirupsen/logrus"
)

type PublishService interface {
	// Publish sends one scheduled post. Publishing failures are recorded on the
	// post and are not returned; an error means the post could not be loaded or
	// its outcome could not be stored, and the delivery should be retried.
	Publish(ctx context.Context, postID int64) error
}

type publishService struct {
	posts     repository.PostRepository
	media     repository.MediaRepository
	creds     repository.CredentialRepository
	history   repository.PostingHistoryRepository
	refresh   RefreshService
	providers map[models.Provider]Provider
}

func NewPublishService(
	posts repository.PostRepository,
	media repository.MediaRepository,
	creds repository.CredentialRepository,
	history repository.PostingHistoryRepository,
	refresh RefreshService,
	providers ...Provider) PublishService {
	byName := make(map[models.Provider]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &publishService{
		posts:     posts,
		media:     media,
		creds:     creds,
		history:   history,
		refresh:   refresh,
		providers: byName,
	}
}

func (s *publishService) Publish(ctx context.Context, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	log := logrus.WithField("post_id", postID)
	if post == nil {
		log.Warn("post no longer exists, dropping")
		return nil
	}
	log = log.WithField("provider", post.Provider)
	if post.Status != models.PostStatusScheduled {
		log.WithField("status", post.Status).Info("post already settled, skipping")
		return nil
	}

	collection, err := s.posts.GetCollection(ctx, post.CollectionID)
	if err != nil {
		return fmt.Errorf("load collection %d: %w", post.CollectionID, err)
	}
	if collection == nil {
		return s.settle(ctx, post, nil, "", fmt.Errorf("%w: collection %d missing", ErrInvalidPost, post.CollectionID))
	}

	media, err := s.media.ListByCollection(ctx, collection.ID)
	if err != nil {
		return fmt.Errorf("load media of collection %d: %w", collection.ID, err)
	}

	cred, err := s.creds.GetByID(ctx, post.CredentialID)
	if err != nil {
		return fmt.Errorf("load credential %d: %w", post.CredentialID, err)
	}
	if cred == nil {
		return s.settle(ctx, post, collection, "", fmt.Errorf("%w: credential %d", ErrCredentialNotFound, post.CredentialID))
	}

	req := &PublishRequest{Post: post, Collection: collection, Media: media, Credential: cred}
	provider, err := s.validate(req)
	if err != nil {
		return s.settle(ctx, post, collection, "", err)
	}

	valid, err := s.refresh.GetValid(ctx, cred)
	if err != nil {
		return s.settle(ctx, post, collection, "", atStage(StageAuth, err))
	}
	req.Credential = valid

	remoteID, err := s.dispatch(ctx, provider, req)
	return s.settle(ctx, post, collection, remoteID, err)
}

// validate rejects malformed posts before any network call.
func (s *publishService) validate(req *PublishRequest) (Provider, error) {
	post := req.Post
	provider, ok := s.providers[post.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ErrUnsupportedContent, post.Provider)
	}
	if req.Credential.Provider != post.Provider {
		return nil, fmt.Errorf("%w: credential %d belongs to %s", ErrInvalidPost, req.Credential.ID, req.Credential.Provider)
	}
	if !post.Kind.Valid() {
		return nil, fmt.Errorf("%w: content kind %q", ErrInvalidPost, post.Kind)
	}
	if !provider.Supports(post.Kind) {
		return nil, fmt.Errorf("%w: %s cannot publish %s", ErrUnsupportedContent, post.Provider, post.Kind)
	}

	for _, m := range req.Media {
		if m.Size <= 0 || m.Key == "" {
			return nil, fmt.Errorf("%w: media %d is empty", ErrInvalidPost, m.ID)
		}
	}

	switch post.Kind {
	case models.ContentKindText:
		if req.Text() == "" {
			return nil, fmt.Errorf("%w: text post without text", ErrInvalidPost)
		}
	case models.ContentKindImage:
		if len(req.Media) == 0 {
			return nil, fmt.Errorf("%w: image post without images", ErrInvalidPost)
		}
		for _, m := range req.Media {
			if !m.IsImage() {
				return nil, fmt.Errorf("%w: %s in image post", ErrInvalidPost, m.MimeType)
			}
		}
	case models.ContentKindVideo:
		if len(req.Media) != 1 || !req.Media[0].IsVideo() {
			return nil, fmt.Errorf("%w: video post needs exactly one video", ErrInvalidPost)
		}
	}
	return provider, nil
}

func (s *publishService) dispatch(ctx context.Context, p Provider, req *PublishRequest) (remoteID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s publisher panicked: %v", p.Name(), r)
		}
	}()

	switch req.Post.Kind {
	case models.ContentKindText:
		return p.PublishText(ctx, req)
	case models.ContentKindImage:
		return p.PublishImage(ctx, req)
	case models.ContentKindVideo:
		return p.PublishVideo(ctx, req)
	}
	return "", fmt.Errorf("%w: content kind %q", ErrInvalidPost, req.Post.Kind)
}

// settle moves the post to its terminal status and records the attempt.
func (s *publishService) settle(ctx context.Context, post *models.Post, collection *models.PostCollection, remoteID string, publishErr error) error {
	status := models.PostStatusPosted
	if publishErr != nil {
		status = models.PostStatusFailed
	}

	log := logrus.WithFields(logrus.Fields{"post_id": post.ID, "provider": post.Provider, "kind": post.Kind})

	updated, err := s.posts.UpdatePostStatus(ctx, status, post.ID)
	if err != nil {
		return fmt.Errorf("set post %d to %s: %w", post.ID, status, err)
	}
	if !updated {
		log.Info("post was settled concurrently")
		return nil
	}

	entry := &models.PostingHistory{
		PostID:       post.ID,
		CredentialID: post.CredentialID,
		Status:       string(status),
	}
	if collection != nil {
		entry.UserID = collection.UserID
	}

	if publishErr != nil {
		stage := StageOf(publishErr)
		entry.Stage = string(stage)
		entry.ErrorMessage = publishErr.Error()
		entry.ReauthRequired = errors.Is(publishErr, ErrCredentialInvalid) || errors.Is(publishErr, ErrCredentialNotFound)
		log.WithFields(logrus.Fields{"stage": stage, "reauth_required": entry.ReauthRequired}).
			WithError(publishErr).Error("publish failed")
	} else {
		log.WithField("remote_id", remoteID).Info("post published")
	}

	if _, err := s.history.Create(ctx, entry); err != nil {
		log.WithError(err).Warn("posting history not recorded")
	}
	return nil
}
