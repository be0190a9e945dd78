// Package s3 uploads fetched rows to AWS S3 as JSON lines.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// ErrObjectExists is returned when the destination key already exists and
// overwriting is disabled.
var ErrObjectExists = errors.New("object already exists")

// s3PutAPI defines the subset of S3 operations needed by the Exporter.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Compile-time check that Exporter implements outbound.RowExporter
var _ outbound.RowExporter = (*Exporter)(nil)

// Destination identifies the uploaded object.
type Destination struct {
	Bucket string
	Key    string

	// Gzip compresses the body and sets Content-Encoding.
	Gzip bool

	// Overwrite replaces an existing object. When false the upload is
	// conditional and fails with ErrObjectExists.
	Overwrite bool
}

// ParseURL parses "s3://bucket/key". A key ending in ".gz" enables Gzip.
func ParseURL(raw string) (Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid S3 URL: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Destination{}, fmt.Errorf("invalid S3 URL %q: expected s3://bucket/key", raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return Destination{}, fmt.Errorf("invalid S3 URL %q: missing object key", raw)
	}
	return Destination{
		Bucket: u.Host,
		Key:    key,
		Gzip:   strings.HasSuffix(key, ".gz"),
	}, nil
}

// Exporter implements outbound.RowExporter using the AWS SDK.
type Exporter struct {
	client s3PutAPI
	dest   Destination
	logger *slog.Logger
}

// NewExporter creates an Exporter with the given AWS config.
func NewExporter(cfg aws.Config, dest Destination, logger *slog.Logger, optFns ...func(*s3.Options)) (*Exporter, error) {
	return newExporter(s3.NewFromConfig(cfg, optFns...), dest, logger)
}

func newExporter(client s3PutAPI, dest Destination, logger *slog.Logger) (*Exporter, error) {
	if dest.Bucket == "" || dest.Key == "" {
		return nil, errors.New("bucket and key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		client: client,
		dest:   dest,
		logger: logger.With("component", "s3-exporter"),
	}, nil
}

// prepareBody encodes rows and handles optional gzip compression.
func prepareBody(rows []entity.Row, compressGzip bool) (io.Reader, *string, error) {
	var buf bytes.Buffer
	if !compressGzip {
		if err := entity.WriteJSONLines(&buf, rows); err != nil {
			return nil, nil, err
		}
		return bytes.NewReader(buf.Bytes()), nil, nil
	}

	gzWriter := gzip.NewWriter(&buf)
	if err := entity.WriteJSONLines(gzWriter, rows); err != nil {
		return nil, nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), aws.String("gzip"), nil
}

// Export uploads rows as one object.
func (e *Exporter) Export(ctx context.Context, rows []entity.Row) error {
	body, contentEncoding, err := prepareBody(rows, e.dest.Gzip)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:          aws.String(e.dest.Bucket),
		Key:             aws.String(e.dest.Key),
		Body:            body,
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: contentEncoding,
	}
	if !e.dest.Overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := e.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "PreconditionFailed" || apiErr.ErrorCode() == "412") {
			return fmt.Errorf("%w: s3://%s/%s", ErrObjectExists, e.dest.Bucket, e.dest.Key)
		}
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	e.logger.Info("exported rows to S3", "bucket", e.dest.Bucket, "key", e.dest.Key, "rows", len(rows), "compressed", e.dest.Gzip)
	return nil
}
