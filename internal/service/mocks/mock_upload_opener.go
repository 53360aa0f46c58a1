package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"lexsign/internal/model"
)

type MockUploadOpener struct {
	mock.Mock
}

func (m *MockUploadOpener) Open(ctx context.Context, key string, totalBytes int64, contentType string) (*model.UploadSession, error) {
	args := m.Called(ctx, key, totalBytes, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UploadSession), args.Error(1)
}
