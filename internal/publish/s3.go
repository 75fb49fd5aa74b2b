// Package publish uploads finished stores to S3 or an S3-compatible service.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/celldive/zarrpipe/internal/omezarr"
)

// Uploader is the part of the S3 client the publisher needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds the target bucket and client settings.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional; enables a custom endpoint such as MinIO
	AccessKeyID     string // optional; falls back to the default credentials chain
	SecretAccessKey string
	PathStyle       bool
	Concurrency     int
}

// Publisher copies store directories into a bucket.
type Publisher struct {
	client      Uploader
	bucket      string
	prefix      string
	concurrency int
	log         zerolog.Logger
}

// Result describes one published store.
type Result struct {
	URI     string `json:"uri"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// New creates a publisher backed by an S3 client built from cfg.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Uploader, cfg Config, log zerolog.Logger) *Publisher {
	n := cfg.Concurrency
	if n <= 0 {
		n = 8
	}
	return &Publisher{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		concurrency: n,
		log:         log.With().Str("component", "publish").Logger(),
	}
}

// Key returns the object key of a file inside a store.
func (p *Publisher) Key(store, rel string) string {
	return path.Join(p.prefix, store, filepath.ToSlash(rel))
}

// Publish uploads every file of a committed store. The completion marker is
// uploaded last so remote readers see the same completeness rule as local
// ones.
func (p *Publisher) Publish(ctx context.Context, storeDir string) (Result, error) {
	if !omezarr.IsComplete(storeDir) {
		return Result{}, fmt.Errorf("%w: %s", omezarr.ErrIncomplete, storeDir)
	}
	store := filepath.Base(storeDir)

	var files []string
	err := filepath.WalkDir(storeDir, func(fpath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(storeDir, fpath)
		if err != nil {
			return err
		}
		if rel != omezarr.MarkerFile {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list store: %w", err)
	}

	var bytesSent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rel := range files {
		g.Go(func() error {
			n, err := p.put(gctx, storeDir, store, rel)
			bytesSent.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	n, err := p.put(ctx, storeDir, store, omezarr.MarkerFile)
	if err != nil {
		return Result{}, err
	}
	bytesSent.Add(n)

	res := Result{
		URI:     fmt.Sprintf("s3://%s/%s", p.bucket, p.Key(store, "")),
		Objects: len(files) + 1,
		Bytes:   bytesSent.Load(),
	}
	p.log.Info().Str("store", store).Str("uri", res.URI).Int("objects", res.Objects).Int64("bytes", res.Bytes).Msg("store published")
	return res, nil
}

func (p *Publisher) put(ctx context.Context, storeDir, store, rel string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, rel))
	if err != nil {
		return 0, err
	}
	key := p.Key(store, rel)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(rel)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return int64(len(data)), nil
}

func contentType(rel string) string {
	base := path.Base(filepath.ToSlash(rel))
	switch {
	case strings.HasSuffix(base, ".xml"):
		return "application/xml"
	case strings.HasPrefix(base, ".z"), strings.HasSuffix(base, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
