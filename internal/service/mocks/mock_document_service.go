package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"lexsign/internal/model"
	"lexsign/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Create(ctx context.Context, r io.Reader, matterID, originalFilename, contentType string, size int64, signers []model.Signer) (*model.VersionChain, error) {
	args := m.Called(ctx, r, matterID, originalFilename, contentType, size, signers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, id string) (*model.VersionChain, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockDocumentService) ListByMatter(ctx context.Context, matterID string, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, matterID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Publish(ctx context.Context, id, actor string) (*model.Document, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Unpublish(ctx context.Context, id, actor string) (*model.Document, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) InitiateUpload(ctx context.Context, id, filename string) (*service.InitiatedUpload, error) {
	args := m.Called(ctx, id, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.InitiatedUpload), args.Error(1)
}

func (m *MockDocumentService) OpenUploadSession(ctx context.Context, id, filename string, totalBytes int64) (*model.UploadSession, error) {
	args := m.Called(ctx, id, filename, totalBytes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UploadSession), args.Error(1)
}

func (m *MockDocumentService) DownloadLink(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentService) StartSession(ctx context.Context, id, signerEmail string) (*model.SigningSession, error) {
	args := m.Called(ctx, id, signerEmail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SigningSession), args.Error(1)
}

func (m *MockDocumentService) UpdateSigned(ctx context.Context, id string, in service.UpdateSignedInput) (*model.VersionChain, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockDocumentService) Sign(ctx context.Context, id string, in service.SignInput) (*model.VersionChain, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockDocumentService) MarkDeclined(ctx context.Context, id, signerEmail string) error {
	args := m.Called(ctx, id, signerEmail)
	return args.Error(0)
}

func (m *MockDocumentService) Revert(ctx context.Context, id, targetItemID, actor string) (*model.VersionChain, error) {
	args := m.Called(ctx, id, targetItemID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}
