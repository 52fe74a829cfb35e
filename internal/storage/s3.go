// Package storage publishes finished artifacts to S3-compatible object
// storage and hands back presigned download links.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/lvcoi/tubeform/internal/media"
)

// Config describes the bucket artifacts are uploaded to.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for MinIO and other S3-compatible servers
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	PresignTTL      time.Duration
	Timeout         time.Duration
	MaxRetries      int
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

// Validate checks the fields needed to publish.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("s3 access key and secret must be set together")
	}
	if c.PresignTTL < 0 {
		return errors.New("s3 presign ttl must not be negative")
	}
	return nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Publisher uploads artifacts and returns time-limited GET links.
type Publisher struct {
	putter    objectPutter
	presigner objectPresigner
	cfg       Config
	now       func() time.Time
	newID     func() string
}

// NewPublisher builds an S3 client from cfg. Credentials fall back to the
// default AWS chain when no static keys are set.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 configuration: %w", err)
	}
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newPublisher(client, s3.NewPresignClient(client), cfg), nil
}

func newPublisher(putter objectPutter, presigner objectPresigner, cfg Config) *Publisher {
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = time.Hour
	}
	return &Publisher{
		putter:    putter,
		presigner: presigner,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func buildAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxRetries > 0 {
		optFns = append(optFns, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// Publish uploads the artifact and returns a presigned URL valid for the
// configured TTL.
func (p *Publisher) Publish(ctx context.Context, a *media.Artifact) (string, error) {
	if a == nil || a.Path == "" {
		return "", errors.New("no artifact to publish")
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	key := p.objectKey(a.Filename)
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})

	_, err = p.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(p.cfg.Bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentLength:      aws.Int64(a.Size),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(disposition),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return req.URL, nil
}

// objectKey is <prefix>/<yyyy/mm/dd>/<uuid>/<filename>.
func (p *Publisher) objectKey(filename string) string {
	name := media.SanitizeFilename(filename)
	day := p.now().UTC().Format("2006/01/02")
	return strings.TrimPrefix(path.Join(p.cfg.Prefix, day, p.newID(), name), "/")
}
