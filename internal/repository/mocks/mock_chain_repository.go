package mocks

import (
	"context"

	"lexsign/internal/model"
	"lexsign/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockChainRepository struct {
	mock.Mock
}

func (m *MockChainRepository) CreateDocument(ctx context.Context, doc *model.Document, signers []model.Signer) (*model.VersionChain, error) {
	args := m.Called(ctx, doc, signers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockChainRepository) FindChain(ctx context.Context, documentID string) (*model.VersionChain, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockChainRepository) ListByMatter(ctx context.Context, matterID string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, matterID, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockChainRepository) AppendVersion(ctx context.Context, documentID, expectedHeadItemID string, in repository.AppendInput) (*model.VersionChain, error) {
	args := m.Called(ctx, documentID, expectedHeadItemID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockChainRepository) RevertToVersion(ctx context.Context, documentID, targetItemID, actor string) (*model.VersionChain, error) {
	args := m.Called(ctx, documentID, targetItemID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionChain), args.Error(1)
}

func (m *MockChainRepository) SetStatus(ctx context.Context, documentID string, status model.DocumentStatus, actor string) (*model.Document, error) {
	args := m.Called(ctx, documentID, status, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockChainRepository) MarkSigner(ctx context.Context, documentID, email string, status model.SignerStatus) error {
	args := m.Called(ctx, documentID, email, status)
	return args.Error(0)
}

func (m *MockChainRepository) AppendAudit(ctx context.Context, documentID, event, actor string, detail map[string]any) error {
	args := m.Called(ctx, documentID, event, actor, detail)
	return args.Error(0)
}
