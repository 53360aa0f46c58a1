package mocks

import (
	"github.com/stretchr/testify/mock"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendOTP(to, signerName, documentName, otp string) error {
	args := m.Called(to, signerName, documentName, otp)
	return args.Error(0)
}

func (m *MockSender) SendDeclineNotice(to, signerName, documentName string) error {
	args := m.Called(to, signerName, documentName)
	return args.Error(0)
}
