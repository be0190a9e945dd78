package s3

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/testutil"
)

type mockS3API struct {
	calls     int
	lastInput *s3.PutObjectInput
	body      []byte
	err       error
}

func (m *mockS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.calls++
	m.lastInput = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.body = data
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

var testRows = []entity.Row{
	{Block: 7, Values: map[string]any{"price": "1.5"}},
	{Block: 8, Values: map[string]any{"price": "1.6"}},
}

// --- Test: ParseURL ---

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Destination
		wantErr bool
	}{
		{name: "plain", raw: "s3://results/runs/a.jsonl", want: Destination{Bucket: "results", Key: "runs/a.jsonl"}},
		{name: "gzip", raw: "s3://results/a.jsonl.gz", want: Destination{Bucket: "results", Key: "a.jsonl.gz", Gzip: true}},
		{name: "wrong scheme", raw: "https://results/a.jsonl", wantErr: true},
		{name: "missing key", raw: "s3://results/", wantErr: true},
		{name: "missing bucket", raw: "s3:///a.jsonl", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

// --- Test: NewExporter ---

func TestNewExporter(t *testing.T) {
	e, err := NewExporter(aws.Config{Region: "us-east-1"}, Destination{Bucket: "b", Key: "k"}, nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	if e.client == nil || e.logger == nil {
		t.Error("expected client and default logger")
	}
	if _, err := NewExporter(aws.Config{}, Destination{Bucket: "b"}, nil); err == nil {
		t.Error("expected error for missing key")
	}
}

// --- Test: Export ---

func TestExport_Conditional(t *testing.T) {
	api := &mockS3API{}
	e, _ := newExporter(api, Destination{Bucket: "results", Key: "a.jsonl"}, testutil.DiscardLogger())

	if err := e.Export(context.Background(), testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("expected 1 PutObject call, got %d", api.calls)
	}
	if aws.ToString(api.lastInput.IfNoneMatch) != "*" {
		t.Error("expected conditional upload")
	}
	if api.lastInput.ContentEncoding != nil {
		t.Error("expected no content encoding")
	}
	want := "{\"block\":7,\"price\":\"1.5\"}\n{\"block\":8,\"price\":\"1.6\"}\n"
	if string(api.body) != want {
		t.Errorf("expected body %q, got %q", want, api.body)
	}
}

func TestExport_OverwriteGzip(t *testing.T) {
	api := &mockS3API{}
	e, _ := newExporter(api, Destination{Bucket: "results", Key: "a.jsonl.gz", Gzip: true, Overwrite: true}, testutil.DiscardLogger())

	if err := e.Export(context.Background(), testRows); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if api.lastInput.IfNoneMatch != nil {
		t.Error("expected unconditional upload")
	}
	if aws.ToString(api.lastInput.ContentEncoding) != "gzip" {
		t.Error("expected gzip content encoding")
	}

	gz, err := gzip.NewReader(strings.NewReader(string(api.body)))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if strings.Count(string(data), "\n") != 2 {
		t.Errorf("expected 2 lines, got %q", data)
	}
}

func TestExport_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantExists bool
	}{
		{name: "precondition failed", err: &smithy.GenericAPIError{Code: "PreconditionFailed"}, wantExists: true},
		{name: "412", err: &smithy.GenericAPIError{Code: "412"}, wantExists: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}},
		{name: "network", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockS3API{err: tt.err}
			e, _ := newExporter(api, Destination{Bucket: "b", Key: "k"}, testutil.DiscardLogger())

			err := e.Export(context.Background(), testRows)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrObjectExists) != tt.wantExists {
				t.Errorf("ErrObjectExists = %v, want %v (%v)", !tt.wantExists, tt.wantExists, err)
			}
		})
	}
}
