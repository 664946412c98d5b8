// Package blob resolves collection sources and publish targets that may live
// on the local filesystem or in S3 object storage. Remote locations use the
// "s3://bucket/key" form.
package blob

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mbiome/expcollect/internal/util"
)

// IsRemote reports whether a location refers to object storage.
func IsRemote(loc string) bool {
	return strings.HasPrefix(loc, "s3://")
}

// SplitS3 splits "s3://bucket/key" into bucket and key.
func SplitS3(loc string) (string, string, error) {
	trimmed := strings.TrimPrefix(loc, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed s3 location %q", loc)
	}
	return parts[0], parts[1], nil
}

// Store fetches sources and publishes outputs. The S3 client is created on
// first use so purely local builds never touch AWS configuration.
type Store struct {
	api objectAPI
}

func New() *Store {
	return &Store{}
}

// Fetch copies a source (local path or s3 location) to a local destination.
func (s *Store) Fetch(ctx context.Context, src, dst string) error {

	if !IsRemote(src) {
		if !util.FileExists(src) {
			return fmt.Errorf("source %s does not exist", src)
		}
		return util.CopyFile(src, dst)
	}

	bucket, key, err := SplitS3(src)
	if err != nil {
		return err
	}

	api, err := s.objects(ctx)
	if err != nil {
		return err
	}

	body, err := api.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", src, err)
	}
	defer body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Publish copies a local file to its destination (local path or s3 location).
func (s *Store) Publish(ctx context.Context, local, dst string) error {

	if !IsRemote(dst) {
		return util.CopyFile(local, dst)
	}

	bucket, key, err := SplitS3(dst)
	if err != nil {
		return err
	}

	api, err := s.objects(ctx)
	if err != nil {
		return err
	}

	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := api.Put(ctx, bucket, key, in); err != nil {
		return fmt.Errorf("publishing %s: %w", dst, err)
	}
	return nil
}

// OpenLocal opens a local file for reading, transparently decompressing
// gzipped content by suffix.
func OpenLocal(path string) (io.ReadCloser, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &gzReadCloser{gz: gz, f: f}, nil
}

type gzReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzReadCloser) Close() error {
	if err := g.gz.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}
