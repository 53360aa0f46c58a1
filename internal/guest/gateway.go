// Package guest implements the external-party access gateway: opaque,
// time-boxed tokens gated by a one-time code, each scoped to exactly one
// document's signing operations.
package guest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token state machine: issued -> otp_pending -> otp_verified -> terminal.
// Terminal states never leave the store; terminal tokens are deleted.
type State string

const (
	StateIssued      State = "issued"
	StateOTPPending  State = "otp_pending"
	StateOTPVerified State = "otp_verified"
)

var (
	// ErrInvalidToken is deliberately generic: unknown token, expired
	// token and token scoped to another document all look identical to
	// the caller.
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrInvalidCode  = errors.New("invalid verification code")
	ErrNotVerified  = errors.New("token not verified")
)

// Record is what the gateway knows about one invited guest signer.
type Record struct {
	DocumentID    string     `json:"document_id"`
	MatterID      string     `json:"matter_id"`
	SignerEmail   string     `json:"signer_email"`
	SignerName    string     `json:"signer_name"`
	State         State      `json:"state"`
	OTPHash       string     `json:"otp_hash,omitempty"`
	OTPExpiresAt  time.Time  `json:"otp_expires_at"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
}

// Gateway stores guest tokens in Redis under a hash of the opaque token;
// the raw token never touches the store. Redis TTL is the expiry clock.
type Gateway struct {
	client   *redis.Client
	prefix   string
	tokenTTL time.Duration
	otpTTL   time.Duration
	now      func() time.Time
}

// NewGateway creates a gateway with the given token and OTP lifetimes.
func NewGateway(client *redis.Client, tokenTTL, otpTTL time.Duration) *Gateway {
	return &Gateway{
		client:   client,
		prefix:   "guest:",
		tokenTTL: tokenTTL,
		otpTTL:   otpTTL,
		now:      time.Now,
	}
}

func (g *Gateway) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return g.prefix + hex.EncodeToString(sum[:])
}

// Issue creates a token for an invited signer and a fresh OTP for
// out-of-band delivery. Internal-user-only operation; the caller is
// responsible for actually sending the OTP.
func (g *Gateway) Issue(ctx context.Context, documentID, matterID, signerEmail, signerName string) (token, otp string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(raw)

	otp, err = newOTP()
	if err != nil {
		return "", "", err
	}

	rec := Record{
		DocumentID:   documentID,
		MatterID:     matterID,
		SignerEmail:  signerEmail,
		SignerName:   signerName,
		State:        StateOTPPending,
		OTPHash:      hashCode(otp),
		OTPExpiresAt: g.now().Add(g.otpTTL),
		IssuedAt:     g.now(),
	}

	if err := g.save(ctx, token, &rec, g.tokenTTL); err != nil {
		return "", "", err
	}
	return token, otp, nil
}

// Peek loads the record for a token without changing state. Used for the
// metadata reads a guest performs before and during signing.
func (g *Gateway) Peek(ctx context.Context, token string) (*Record, error) {
	return g.load(ctx, token)
}

// ResendOTP generates a fresh OTP for an unverified token. Re-sendable as
// often as needed; never advances state beyond otp_pending. For an
// already verified token no new OTP is produced (re-verification is not
// required) and the empty string is returned.
func (g *Gateway) ResendOTP(ctx context.Context, token string) (string, *Record, error) {
	rec, err := g.load(ctx, token)
	if err != nil {
		return "", nil, err
	}
	if rec.State == StateOTPVerified {
		return "", rec, nil
	}

	otp, err := newOTP()
	if err != nil {
		return "", nil, err
	}
	rec.State = StateOTPPending
	rec.OTPHash = hashCode(otp)
	rec.OTPExpiresAt = g.now().Add(g.otpTTL)

	if err := g.save(ctx, token, rec, redis.KeepTTL); err != nil {
		return "", nil, err
	}
	return otp, rec, nil
}

// Verify checks the OTP and moves the token to otp_verified. The code is
// single-use: a successful verification consumes it. A wrong code does
// not invalidate the OTP (rate limiting lives elsewhere).
func (g *Gateway) Verify(ctx context.Context, token, otp string) error {
	rec, err := g.load(ctx, token)
	if err != nil {
		return err
	}
	if rec.State == StateOTPVerified {
		return nil
	}
	if rec.OTPHash == "" || g.now().After(rec.OTPExpiresAt) {
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(otp)), []byte(rec.OTPHash)) != 1 {
		return ErrInvalidCode
	}

	now := g.now()
	rec.State = StateOTPVerified
	rec.OTPHash = ""
	rec.OTPVerifiedAt = &now
	return g.save(ctx, token, rec, redis.KeepTTL)
}

// Authorize gates the three post-verification operations (download,
// upload, finalize). The token must be verified and must reference the
// requested document; any failure is the same generic error.
func (g *Gateway) Authorize(ctx context.Context, token, documentID string) (*Record, error) {
	rec, err := g.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.State != StateOTPVerified {
		return nil, ErrNotVerified
	}
	if subtle.ConstantTimeCompare([]byte(rec.DocumentID), []byte(documentID)) != 1 {
		return nil, ErrInvalidToken
	}
	return rec, nil
}

// Consume removes a token after terminal use (signed or declined).
func (g *Gateway) Consume(ctx context.Context, token string) error {
	return g.client.Del(ctx, g.key(token)).Err()
}

func (g *Gateway) save(ctx context.Context, token string, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal guest record: %w", err)
	}
	if err := g.client.Set(ctx, g.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("save guest record: %w", err)
	}
	return nil
}

func (g *Gateway) load(ctx context.Context, token string) (*Record, error) {
	data, err := g.client.Get(ctx, g.key(token)).Result()
	if err == redis.Nil {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup guest record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal guest record: %w", err)
	}
	return &rec, nil
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// MaskEmail hides the local part of an address when surfaced to a guest:
// "jane.doe@client.example" becomes "j***@client.example".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
