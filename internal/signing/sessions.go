package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lexsign/internal/model"
)

// ErrSessionNotFound covers unknown and expired session ids alike; the
// TTL on the record is the expiry clock.
var ErrSessionNotFound = errors.New("signing session not found")

// SessionStore holds internal signers' in-flight sessions in Redis. A
// session pins the head observed at start; it holds no lock and blocks
// nobody, so abandonment needs no cleanup beyond letting the TTL run out.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionStore creates a store with the given session lifetime.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(id string) string {
	return "signsess:" + id
}

func docSetKey(documentID string) string {
	return "signsess:doc:" + documentID
}

// Start captures the optimistic read for one signing attempt.
func (s *SessionStore) Start(ctx context.Context, documentID, signerEmail, headItemID string) (*model.SigningSession, error) {
	sess := model.SigningSession{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		StartedFromItemID: headItemID,
		SignerEmail:       signerEmail,
		ExpiresAt:         s.now().Add(s.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal signing session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, docSetKey(documentID), sess.ID)
	pipe.Expire(ctx, docSetKey(documentID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store signing session: %w", err)
	}
	return &sess, nil
}

// Get loads a live session.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.SigningSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load signing session: %w", err)
	}
	var sess model.SigningSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode signing session: %w", err)
	}
	return &sess, nil
}

// Consume deletes a session after a successful append or an explicit
// abandonment. Deleting an already gone session is not an error.
func (s *SessionStore) Consume(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, docSetKey(sess.DocumentID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("consume signing session: %w", err)
	}
	return nil
}

// VoidDocument drops every in-flight session for a document. Called on
// unpublish, so signatures started against a retracted document cannot
// finalize from a stale session.
func (s *SessionStore) VoidDocument(ctx context.Context, documentID string) (int, error) {
	ids, err := s.client.SMembers(ctx, docSetKey(documentID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list document sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, docSetKey(documentID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("void document sessions: %w", err)
	}
	return len(ids), nil
}
