// Package upload implements resumable chunked upload sessions against the
// external document store. A session accepts contiguous byte ranges
// starting at zero and creates exactly one external object on completion;
// abandoned or failed sessions leave no object behind.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexsign/internal/model"
	"lexsign/internal/storage"
)

var (
	// ErrRangeMismatch means a chunk had a gap, overlap or length
	// disagreement. Fatal to the session; the caller must reopen.
	ErrRangeMismatch = errors.New("chunk range mismatch")
	// ErrSessionExpired covers both an elapsed session clock and an
	// unknown session id; callers restart from Open either way.
	ErrSessionExpired = errors.New("upload session expired")
)

// minPartSize is the S3 lower bound for every part except the last.
const minPartSize = 5 * 1024 * 1024

// Ack reports the state of a session after a chunk lands. Complete is set
// only by the final chunk, at which point ItemID carries the id of the
// newly created external object.
type Ack struct {
	BytesConfirmed int64  `json:"bytes_confirmed"`
	Complete       bool   `json:"complete"`
	ItemID         string `json:"item_id,omitempty"`
}

type session struct {
	key        string
	uploadID   string
	totalBytes int64
	confirmed  int64
	buf        bytes.Buffer
	parts      []storage.MultipartPart
	nextPart   int
	expiresAt  time.Time
}

// Manager owns the in-flight sessions of this process. Part state lives
// with the multipart upload id on the backend, so a session is pinned to
// the process that opened it; the registry itself is just a guarded map.
type Manager struct {
	store    storage.Storage
	ttl      time.Duration
	partSize int64
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager with the given session lifetime.
func NewManager(store storage.Storage, ttl time.Duration) *Manager {
	return &Manager{
		store:    store,
		ttl:      ttl,
		partSize: minPartSize,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Open starts a chunked upload session for the destination key. The
// returned session expires on its own clock regardless of activity.
func (m *Manager) Open(ctx context.Context, key string, totalBytes int64, contentType string) (*model.UploadSession, error) {
	if totalBytes <= 0 {
		return nil, fmt.Errorf("total bytes must be positive, got %d", totalBytes)
	}
	uploadID, err := m.store.InitMultipart(ctx, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("init multipart: %w", err)
	}

	id := uuid.NewString()
	expires := m.now().Add(m.ttl)

	m.mu.Lock()
	m.sessions[id] = &session{
		key:        key,
		uploadID:   uploadID,
		totalBytes: totalBytes,
		nextPart:   1,
		expiresAt:  expires,
	}
	m.mu.Unlock()

	return &model.UploadSession{
		ID:         id,
		TotalBytes: totalBytes,
		ExpiresAt:  expires,
	}, nil
}

// PutChunk submits the byte range [start, end] of the file. Ranges must
// arrive contiguously from zero; resubmitting an already confirmed range
// is idempotent. The chunk ending at totalBytes-1 completes the session
// and yields the new external item id.
func (m *Manager) PutChunk(ctx context.Context, sessionID string, start, end int64, data []byte) (Ack, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Ack{}, ErrSessionExpired
	}
	if m.now().After(s.expiresAt) {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.discard(s)
		return Ack{}, ErrSessionExpired
	}

	if start < 0 || end < start || end >= s.totalBytes || int64(len(data)) != end-start+1 {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.discard(s)
		return Ack{}, ErrRangeMismatch
	}

	// Whole range already confirmed: ack again, upload nothing twice.
	if end < s.confirmed {
		ack := Ack{BytesConfirmed: s.confirmed}
		m.mu.Unlock()
		return ack, nil
	}

	if start != s.confirmed {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.discard(s)
		return Ack{}, ErrRangeMismatch
	}

	s.buf.Write(data)
	s.confirmed = end + 1
	final := s.confirmed == s.totalBytes
	m.mu.Unlock()

	// Parts are flushed outside the registry lock; the session is still
	// owned by this call since chunks of one session arrive sequentially.
	if err := m.flush(ctx, s, final); err != nil {
		m.drop(sessionID)
		m.discard(s)
		return Ack{}, err
	}

	if !final {
		return Ack{BytesConfirmed: s.confirmed}, nil
	}

	info, err := m.store.CompleteMultipart(ctx, s.key, s.uploadID, s.parts)
	if err != nil {
		m.drop(sessionID)
		m.discard(s)
		return Ack{}, fmt.Errorf("complete multipart: %w", err)
	}
	m.drop(sessionID)
	return Ack{BytesConfirmed: s.confirmed, Complete: true, ItemID: info.Key}, nil
}

// Progress returns the current state of a session.
func (m *Manager) Progress(sessionID string) (*model.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.now().After(s.expiresAt) {
		return nil, ErrSessionExpired
	}
	return &model.UploadSession{
		ID:             sessionID,
		TotalBytes:     s.totalBytes,
		BytesConfirmed: s.confirmed,
		ExpiresAt:      s.expiresAt,
	}, nil
}

// Abandon discards a session explicitly (e.g. the signer closed the
// dialog). No external object is created.
func (m *Manager) Abandon(ctx context.Context, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		m.discard(s)
	}
}

// Sweep drops every expired session and aborts its backend upload.
// Intended to run periodically from a janitor goroutine.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	var stale []*session
	for id, s := range m.sessions {
		if now.After(s.expiresAt) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.discard(s)
	}
	return len(stale)
}

func (m *Manager) drop(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// flush uploads buffered bytes as parts. Intermediate parts wait for the
// backend minimum part size; the final flush drains whatever remains.
func (m *Manager) flush(ctx context.Context, s *session, final bool) error {
	for int64(s.buf.Len()) >= m.partSize || (final && s.buf.Len() > 0) {
		n := int64(s.buf.Len())
		if n > m.partSize {
			n = m.partSize
		}
		part := s.buf.Next(int(n))
		p, err := m.store.PutPart(ctx, s.key, s.uploadID, s.nextPart, bytes.NewReader(part), n)
		if err != nil {
			return fmt.Errorf("put part %d: %w", s.nextPart, err)
		}
		s.parts = append(s.parts, p)
		s.nextPart++
	}
	return nil
}

// discard aborts the backend upload with a short independent timeout; the
// caller's context may already be gone.
func (m *Manager) discard(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = m.store.AbortMultipart(ctx, s.key, s.uploadID)
}
