package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"lexsign/internal/model"
	"lexsign/internal/service"
)

type MockGuestService struct {
	mock.Mock
}

func (m *MockGuestService) Invite(ctx context.Context, documentID, signerEmail string) (string, error) {
	args := m.Called(ctx, documentID, signerEmail)
	return args.String(0), args.Error(1)
}

func (m *MockGuestService) SendOTP(ctx context.Context, token string) (*service.GuestMetadata, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GuestMetadata), args.Error(1)
}

func (m *MockGuestService) Verify(ctx context.Context, token, otp string) error {
	args := m.Called(ctx, token, otp)
	return args.Error(0)
}

func (m *MockGuestService) DownloadLink(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockGuestService) UploadURL(ctx context.Context, token, filename string) (*service.InitiatedUpload, error) {
	args := m.Called(ctx, token, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.InitiatedUpload), args.Error(1)
}

func (m *MockGuestService) OpenUploadSession(ctx context.Context, token, filename string, totalBytes int64) (*model.UploadSession, error) {
	args := m.Called(ctx, token, filename, totalBytes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UploadSession), args.Error(1)
}

func (m *MockGuestService) Finalize(ctx context.Context, token string, in service.FinalizeInput) (*service.FinalizeAck, error) {
	args := m.Called(ctx, token, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FinalizeAck), args.Error(1)
}

func (m *MockGuestService) Metadata(ctx context.Context, token string) (*service.GuestMetadata, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GuestMetadata), args.Error(1)
}

func (m *MockGuestService) Decline(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}
