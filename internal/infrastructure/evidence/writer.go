// Package evidence persists per-run reports, redacted config snapshots and
// execution logs to a local directory or an S3 prefix.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/infrastructure/fsutil"
)

// S3Scheme prefixes S3 evidence locations
const S3Scheme = "s3://"

// ObjectStore uploads evidence objects
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// RunDir returns the per-run directory name:
// <timestamp>-<op>-<env>[-<workload>]
func RunDir(run ports.EvidenceRun) string {
	name := run.StartedAt.UTC().Format("20060102T150405Z") + "-" + run.Operation + "-" + run.Scope
	return strings.NewReplacer("/", "-", " ", "_").Replace(name)
}

// ParseS3 splits s3://bucket/prefix
func ParseS3(out string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(out, S3Scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", failure.Validation("use --out s3://<bucket>/<prefix>", "invalid S3 evidence location %q", out)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// encode renders a record. Execution logs become JSON lines, raw bytes are
// written as-is, anything else as indented JSON.
func encode(run ports.EvidenceRun, r ports.Record) ([]byte, string, error) {
	switch p := r.Payload.(type) {
	case *ports.ExecutionLog:
		return ExecutionLogLines(run.ID, p), "application/x-ndjson", nil
	case []byte:
		return p, "application/octet-stream", nil
	}
	data, err := json.MarshalIndent(r.Payload, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", r.Name, err)
	}
	return append(data, '\n'), "application/json", nil
}

// LocalWriter writes evidence under a directory
type LocalWriter struct {
	dir string
}

// NewLocalWriter creates a writer rooted at dir
func NewLocalWriter(dir string) ports.EvidenceWriter {
	return &LocalWriter{dir: dir}
}

// Write stores each record atomically in the run directory
func (w *LocalWriter) Write(_ context.Context, run ports.EvidenceRun, records []ports.Record) (string, error) {
	dir := filepath.Join(w.dir, RunDir(run))
	for _, r := range records {
		data, _, err := encode(run, r)
		if err != nil {
			return "", err
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(dir, r.Name), data, 0600); err != nil {
			return "", failure.Precondition("check that --out is writable", "failed to write evidence: %v", err)
		}
	}
	return dir, nil
}

// S3Writer writes evidence under an S3 prefix
type S3Writer struct {
	store  ObjectStore
	prefix string
}

// NewS3Writer creates a writer for store under prefix
func NewS3Writer(store ObjectStore, prefix string) ports.EvidenceWriter {
	return &S3Writer{store: store, prefix: prefix}
}

// Write uploads each record; S3 objects are replaced whole
func (w *S3Writer) Write(ctx context.Context, run ports.EvidenceRun, records []ports.Record) (string, error) {
	base := path.Join(w.prefix, RunDir(run))
	for _, r := range records {
		data, contentType, err := encode(run, r)
		if err != nil {
			return "", err
		}
		if err := w.store.Put(ctx, path.Join(base, r.Name), data, contentType); err != nil {
			return "", err
		}
	}
	return S3Scheme + w.store.Bucket() + "/" + base, nil
}
