package service

import (
	"context"
	"errors"
	"fmt"

	"lexsign/internal/email"
	"lexsign/internal/guest"
	"lexsign/internal/model"
)

// ErrNotOnRoster means the invited address is not a signer of the
// document. Internal-facing only; guests never see roster information.
var ErrNotOnRoster = errors.New("signer is not on the document's roster")

// GuestMetadata is everything a guest is allowed to see about the
// document they were invited to sign. The email is masked; nothing else
// about the matter or firm is exposed.
type GuestMetadata struct {
	MaskedEmail string `json:"masked_email"`
	SignerName  string `json:"signer_name,omitempty"`
	NextVersion int    `json:"next_version"`
	HeadItemID  string `json:"head_item_id"`
}

// FinalizeInput mirrors UpdateSignedInput for the guest path; the signer
// identity comes from the token, not the payload.
type FinalizeInput struct {
	DriveItemID  string
	SourceItemID string
	FileHash     string
}

// FinalizeAck is what a guest learns from a successful finalize: the
// committed item and its position. The full chain carries the roster
// and matter, which stay inside the firm.
type FinalizeAck struct {
	HeadItemID string `json:"head_item_id"`
	Version    int    `json:"version"`
}

// GuestService is the external-party signing surface. Every operation is
// scoped by an opaque token; the token carries the document identity, so
// no guest request ever names a document directly.
type GuestService interface {
	// Invite issues a guest token for a signer on a published document's
	// roster and sends the first OTP out-of-band. Returns the opaque
	// token for the inviting user to deliver as a signing link.
	Invite(ctx context.Context, documentID, signerEmail string) (string, error)

	// SendOTP re-sends a code for an unverified token and returns the
	// metadata the guest signing screen needs. Verified tokens get the
	// metadata with no new code.
	SendOTP(ctx context.Context, token string) (*GuestMetadata, error)

	// Verify checks the one-time code.
	Verify(ctx context.Context, token, otp string) error

	// DownloadLink returns a time-boxed URL for the head object.
	DownloadLink(ctx context.Context, token string) (string, error)

	// UploadURL returns a presigned PUT for the guest's signed rendition.
	UploadURL(ctx context.Context, token, filename string) (*InitiatedUpload, error)

	// OpenUploadSession starts a chunked upload of the guest's signed
	// rendition, for clients that cannot do a single PUT.
	OpenUploadSession(ctx context.Context, token, filename string, totalBytes int64) (*model.UploadSession, error)

	// Finalize appends the guest's signed version. Returns
	// repository.ErrHeadMismatch on a lost race; the token stays valid so
	// the guest can re-read metadata and retry. On success the token is
	// consumed.
	Finalize(ctx context.Context, token string, in FinalizeInput) (*FinalizeAck, error)

	// Metadata is the conflict-recovery read: current head and next
	// version number, no OTP round-trip required once verified.
	Metadata(ctx context.Context, token string) (*GuestMetadata, error)

	// Decline records the signer's refusal, notifies the firm and
	// invalidates the token.
	Decline(ctx context.Context, token string) error
}

type guestService struct {
	gateway    *guest.Gateway
	docs       DocumentService
	mailer     email.Sender
	notifyAddr string
}

// NewGuestService constructs a GuestService. notifyAddr receives decline
// notices; empty disables them.
func NewGuestService(gateway *guest.Gateway, docs DocumentService, mailer email.Sender, notifyAddr string) GuestService {
	return &guestService{gateway: gateway, docs: docs, mailer: mailer, notifyAddr: notifyAddr}
}

func (s *guestService) Invite(ctx context.Context, documentID, signerEmail string) (string, error) {
	chain, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	if chain.Document.Status != model.StatusPublished {
		return "", ErrNotPublished
	}

	var signerName string
	found := false
	for _, sg := range chain.Signers {
		if sg.Email == signerEmail {
			signerName = sg.Name
			found = true
			break
		}
	}
	if !found {
		return "", ErrNotOnRoster
	}

	token, otp, err := s.gateway.Issue(ctx, documentID, chain.Document.MatterID, signerEmail, signerName)
	if err != nil {
		return "", err
	}
	if err := s.mailer.SendOTP(signerEmail, signerName, chain.Document.Filename, otp); err != nil {
		return "", fmt.Errorf("send otp: %w", err)
	}
	return token, nil
}

func (s *guestService) SendOTP(ctx context.Context, token string) (*GuestMetadata, error) {
	otp, rec, err := s.gateway.ResendOTP(ctx, token)
	if err != nil {
		return nil, err
	}

	meta, err := s.metadataFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	if otp != "" {
		chain, err := s.docs.Get(ctx, rec.DocumentID)
		if err != nil {
			return nil, err
		}
		if err := s.mailer.SendOTP(rec.SignerEmail, rec.SignerName, chain.Document.Filename, otp); err != nil {
			return nil, fmt.Errorf("send otp: %w", err)
		}
	}
	return meta, nil
}

func (s *guestService) Verify(ctx context.Context, token, otp string) error {
	return s.gateway.Verify(ctx, token, otp)
}

func (s *guestService) DownloadLink(ctx context.Context, token string) (string, error) {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return "", err
	}
	return s.docs.DownloadLink(ctx, rec.DocumentID)
}

func (s *guestService) UploadURL(ctx context.Context, token, filename string) (*InitiatedUpload, error) {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.docs.InitiateUpload(ctx, rec.DocumentID, filename)
}

func (s *guestService) OpenUploadSession(ctx context.Context, token, filename string, totalBytes int64) (*model.UploadSession, error) {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.docs.OpenUploadSession(ctx, rec.DocumentID, filename, totalBytes)
}

func (s *guestService) Finalize(ctx context.Context, token string, in FinalizeInput) (*FinalizeAck, error) {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return nil, err
	}

	chain, err := s.docs.UpdateSigned(ctx, rec.DocumentID, UpdateSignedInput{
		DriveItemID:  in.DriveItemID,
		SourceItemID: in.SourceItemID,
		FileHash:     in.FileHash,
		SignerEmail:  rec.SignerEmail,
	})
	if err != nil {
		// On a lost race the token survives; the guest re-reads metadata
		// and retries with the new head.
		return nil, err
	}

	if err := s.gateway.Consume(ctx, token); err != nil {
		return nil, fmt.Errorf("consume guest token: %w", err)
	}
	return &FinalizeAck{HeadItemID: chain.Head(), Version: len(chain.Versions)}, nil
}

func (s *guestService) Metadata(ctx context.Context, token string) (*GuestMetadata, error) {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.metadataFor(ctx, rec)
}

func (s *guestService) Decline(ctx context.Context, token string) error {
	rec, err := s.verified(ctx, token)
	if err != nil {
		return err
	}

	chain, err := s.docs.Get(ctx, rec.DocumentID)
	if err != nil {
		return err
	}
	if err := s.docs.MarkDeclined(ctx, rec.DocumentID, rec.SignerEmail); err != nil {
		return err
	}
	if s.notifyAddr != "" {
		if err := s.mailer.SendDeclineNotice(s.notifyAddr, rec.SignerName, chain.Document.Filename); err != nil {
			return fmt.Errorf("send decline notice: %w", err)
		}
	}
	if err := s.gateway.Consume(ctx, token); err != nil {
		return fmt.Errorf("consume guest token: %w", err)
	}
	return nil
}

func (s *guestService) verified(ctx context.Context, token string) (*guest.Record, error) {
	rec, err := s.gateway.Peek(ctx, token)
	if err != nil {
		return nil, err
	}
	// Route every check through the gateway's comparison so a token in
	// the wrong state and a token for the wrong document fail the same
	// way.
	return s.gateway.Authorize(ctx, token, rec.DocumentID)
}

func (s *guestService) metadataFor(ctx context.Context, rec *guest.Record) (*GuestMetadata, error) {
	chain, err := s.docs.Get(ctx, rec.DocumentID)
	if err != nil {
		return nil, err
	}
	return &GuestMetadata{
		MaskedEmail: guest.MaskEmail(rec.SignerEmail),
		SignerName:  rec.SignerName,
		NextVersion: chain.NextVersion(),
		HeadItemID:  chain.Head(),
	}, nil
}
