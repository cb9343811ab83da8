// Package replicate mirrors the published Simplestream tree to an
// S3-compatible bucket using an aws-sdk-go-v2 client. It is optional: the
// publisher calls it only when config.Settings.ReplicationEnabled().
package replicate

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "customstream/internal/config"
)

// Client pushes files from the local tree to a bucket, keyed by their path
// relative to storage root.
type Client struct {
	s3        *s3.Client
	bucket    string
	publicURL string
}

// New builds a replication Client from operator settings, or returns
// (nil, nil) if replication is not configured. Callers treat a nil Client
// as "replication disabled" rather than branching on a bool everywhere.
func New(ctx context.Context, settings *appconfig.Settings) (*Client, error) {
	if !settings.ReplicationEnabled() {
		return nil, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.ReplicaAccessKeyID, settings.ReplicaSecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load replica client config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.ReplicaAccountID != "" {
			o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", settings.ReplicaAccountID))
		}
	})

	return &Client{
		s3:        client,
		bucket:    settings.ReplicaBucket,
		publicURL: settings.ReplicaPublicURL,
	}, nil
}

// PutFile uploads localPath's contents to key, content-typed by extension.
func (c *Client) PutFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s for replication: %w", localPath, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s to replica bucket: %w", key, err)
	}
	return nil
}

// PublicURL returns the replica's public URL for key, for operator
// diagnostics; empty if no public base URL is configured.
func (c *Client) PublicURL(key string) string {
	if c.publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", c.publicURL, key)
}
