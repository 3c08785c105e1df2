package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"
)

// MediaStore reads and writes media objects in the R2 bucket.
type MediaStore interface {
	// URL returns a time-boxed retrieval URL for key.
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, userID int64, file []byte) (*transfer.MediaRef, error)
}

var allowedMediaTypes = map[string]struct{}{
	"jpg": {}, "png": {}, "gif": {}, "webp": {}, "mp4": {}, "mov": {},
}

type mediaService struct {
	bucket  string
	urlTTL  time.Duration
	client  *s3.Client
	presign *s3.PresignClient
}

// NewMediaService builds the bucket client on its own HTTP client. Object
// bodies feed chunked provider uploads, so only the wait for response headers
// is bounded.
func NewMediaService(ctx context.Context, cfg config.Config) (MediaStore, error) {
	headerTimeout := cfg.Media.StorageHeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.ResponseHeaderTimeout = headerTimeout
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2.AccessKey, cfg.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		logrus.WithError(err).Error("unable to load storage config")
		return nil, err
	}

	endpoint := cfg.R2.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2.AccountID)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ttl := cfg.Media.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &mediaService{
		bucket:  cfg.R2.BucketName,
		urlTTL:  ttl,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (m *mediaService) URL(ctx context.Context, key string) (string, error) {
	req, err := m.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(m.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (m *mediaService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return out.Body, nil
}

// Upload sniffs the file type, rejects anything outside the allowed set and
// stores the file under a random key.
func (m *mediaService) Upload(ctx context.Context, userID int64, file []byte) (*transfer.MediaRef, error) {
	kind, err := filetype.Match(file)
	if err != nil || kind == types.Unknown {
		return nil, fmt.Errorf("%w: unknown file type", ErrInvalidPost)
	}
	if _, ok := allowedMediaTypes[kind.Extension]; !ok {
		return nil, fmt.Errorf("%w: file type %s is not allowed", ErrInvalidPost, kind.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%d/%s.%s", userID, id, kind.Extension)

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(file),
		ContentType:   aws.String(kind.MIME.Value),
		ContentLength: aws.Int64(int64(len(file))),
	})
	if err != nil {
		logrus.WithError(err).WithField("key", key).Error("media upload failed")
		return nil, err
	}

	return &transfer.MediaRef{Key: key, MimeType: kind.MIME.Value, Size: int64(len(file))}, nil
}
