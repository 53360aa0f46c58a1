package storage

import (
	"context"
	"io"
	"time"
)

// Package storage contains the external document-store abstraction. The
// application is zero-custody: document bytes only ever live behind this
// interface, never on local disk, and implementations must rely on
// streaming I/O only.

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
// ContentType and Metadata are optional.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// MultipartPart identifies one uploaded part of a multipart session.
type MultipartPart struct {
	Number int
	ETag   string
	Size   int64
}

// Storage is a reusable, S3-compatible object storage client interface.
// Methods use context and streaming readers/writers; no local disk is used.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// PresignPut returns a time-limited URL that accepts a single direct upload of the object.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)

	// InitMultipart starts a multipart upload for key and returns the backend upload id.
	InitMultipart(ctx context.Context, key, contentType string) (string, error)
	// PutPart uploads one part. Part numbers start at 1 and every part except the
	// last must meet the backend's minimum part size.
	PutPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (MultipartPart, error)
	// CompleteMultipart finishes the upload; only now does the object exist.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []MultipartPart) (ObjectInfo, error)
	// AbortMultipart discards an unfinished upload and its parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error
}
