package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"lexsign/internal/model"
)

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Start(ctx context.Context, documentID, signerEmail, headItemID string) (*model.SigningSession, error) {
	args := m.Called(ctx, documentID, signerEmail, headItemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SigningSession), args.Error(1)
}

func (m *MockSessionStore) Consume(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionStore) VoidDocument(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}
