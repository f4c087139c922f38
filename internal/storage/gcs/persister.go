// Package gcs persists entries as objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	suitestorage "github.com/JakeFAU/creator-suite/internal/storage"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// MaxBytes caps each entry; zero disables the quota.
	MaxBytes int64
}

type objectStore interface {
	write(ctx context.Context, name string, data []byte) error
	read(ctx context.Context, name string) ([]byte, error)
	remove(ctx context.Context, name string) error
}

// Persister stores one object per key.
type Persister struct {
	objects  objectStore
	prefix   string
	maxBytes int64
}

// New creates a GCS-backed persister.
func New(client *storage.Client, cfg Config) (*Persister, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return newWithObjects(bucketObjects{bucket: client.Bucket(cfg.Bucket)}, cfg), nil
}

func newWithObjects(objects objectStore, cfg Config) *Persister {
	return &Persister{objects: objects, prefix: cfg.Prefix, maxBytes: cfg.MaxBytes}
}

// Put uploads data as the object for key.
func (p *Persister) Put(ctx context.Context, key string, data []byte) error {
	if err := suitestorage.ValidateKey(key); err != nil {
		return err
	}
	if err := suitestorage.CheckQuota(key, len(data), p.maxBytes); err != nil {
		return err
	}
	return p.objects.write(ctx, suitestorage.ObjectName(p.prefix, key), data)
}

// Get downloads the object for key.
func (p *Persister) Get(ctx context.Context, key string) ([]byte, error) {
	if err := suitestorage.ValidateKey(key); err != nil {
		return nil, err
	}
	return p.objects.read(ctx, suitestorage.ObjectName(p.prefix, key))
}

// Delete removes the object for key; a missing object is not an error.
func (p *Persister) Delete(ctx context.Context, key string) error {
	if err := suitestorage.ValidateKey(key); err != nil {
		return err
	}
	return p.objects.remove(ctx, suitestorage.ObjectName(p.prefix, key))
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) write(ctx context.Context, name string, data []byte) error {
	writer := b.bucket.Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}

func (b bucketObjects) read(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", suitestorage.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

func (b bucketObjects) remove(ctx context.Context, name string) error {
	err := b.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", name, err)
	}
	return nil
}
