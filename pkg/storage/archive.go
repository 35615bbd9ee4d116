package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// FolderWatchSessions is the S3 prefix for archived watch session event logs.
const FolderWatchSessions = "watch-sessions"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack); path-style addressing is used then.
	Endpoint string
}

// Archive writes finalized watch sessions to S3 as JSON documents.
type Archive struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// ArchivedSession is the document stored per watch session.
type ArchivedSession struct {
	ID                  string              `json:"id"`
	VideoID             string              `json:"videoId"`
	UserID              string              `json:"userId,omitempty"`
	UserSessionID       string              `json:"userSessionId,omitempty"`
	IsGuestWatchSession bool                `json:"isGuestWatchSession"`
	StartTime           string              `json:"startTime"`
	EndTime             string              `json:"endTime,omitempty"`
	ActualTimeWatched   float64             `json:"actualTimeWatched"`
	PercentageWatched   float64             `json:"percentageWatched"`
	UserEvents          []models.UserEvent  `json:"userEvent"`
	UserMetadata        models.UserMetadata `json:"userMetadata"`
}

// NewArchive creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewArchive(ctx context.Context, cfg S3Config, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket not configured")
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 archive using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 archive using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Archive{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// WatchSessionKey returns the S3 object key: watch-sessions/{video_id}/{watch_session_id}.json.
func WatchSessionKey(videoID, watchSessionID string) string {
	return path.Join(FolderWatchSessions, path.Base(videoID), watchSessionID+".json")
}

// Document converts a watch session into its archived form.
func Document(w *models.WatchSession) ArchivedSession {
	doc := ArchivedSession{
		ID:                  w.ID.String(),
		VideoID:             w.VideoID,
		IsGuestWatchSession: w.IsGuestWatchSession,
		StartTime:           w.StartTime.UTC().Format(timeLayout),
		ActualTimeWatched:   w.ActualTimeWatched,
		PercentageWatched:   w.PercentageWatched,
		UserEvents:          w.UserEvents,
		UserMetadata:        w.UserMetadata,
	}
	if doc.UserEvents == nil {
		doc.UserEvents = []models.UserEvent{}
	}
	if w.UserID != nil {
		doc.UserID = w.UserID.String()
	}
	if w.UserSessionID != nil {
		doc.UserSessionID = w.UserSessionID.String()
	}
	if w.EndTime != nil {
		doc.EndTime = w.EndTime.UTC().Format(timeLayout)
	}
	return doc
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ArchiveWatchSession uploads the session document and returns its key. Re-archiving
// overwrites the same object.
func (a *Archive) ArchiveWatchSession(ctx context.Context, w *models.WatchSession) (string, error) {
	raw, err := json.Marshal(Document(w))
	if err != nil {
		return "", fmt.Errorf("encode archive document: %w", err)
	}
	key := WatchSessionKey(w.VideoID, w.ID.String())
	if err := a.Upload(ctx, key, "application/json", raw); err != nil {
		return "", err
	}
	a.logger.Debug("watch session archived", zap.String("key", key), zap.Int("bytes", len(raw)))
	return key, nil
}

// Upload writes body to key in the archive bucket.
func (a *Archive) Upload(ctx context.Context, key, contentType string, body []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Bucket returns the archive bucket name.
func (a *Archive) Bucket() string { return a.cfg.Bucket }
