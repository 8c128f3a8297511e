package mocks

import (
	"context"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/stretchr/testify/mock"
)

type ProcessRunnerMock struct {
	mock.Mock
}

func NewProcessRunnerMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *ProcessRunnerMock {
	m := &ProcessRunnerMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ProcessRunnerMock) Run(ctx context.Context, inv domain.Invocation) (int, string, error) {
	args := m.Called(ctx, inv)
	return args.Int(0), args.String(1), args.Error(2)
}

var _ port.ProcessRunner = (*ProcessRunnerMock)(nil)
