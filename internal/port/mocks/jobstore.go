package mocks

import (
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/stretchr/testify/mock"
)

type JobStoreMock struct {
	mock.Mock
}

func NewJobStoreMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *JobStoreMock {
	m := &JobStoreMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *JobStoreMock) Save(j *domain.Job) error {
	return m.Called(j).Error(0)
}

func (m *JobStoreMock) Get(id string) (*domain.Job, error) {
	args := m.Called(id)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *JobStoreMock) ListAll() ([]*domain.Job, error) {
	args := m.Called()
	jobs, _ := args.Get(0).([]*domain.Job)
	return jobs, args.Error(1)
}

func (m *JobStoreMock) ListExpired(before time.Time) ([]*domain.Job, error) {
	args := m.Called(before)
	jobs, _ := args.Get(0).([]*domain.Job)
	return jobs, args.Error(1)
}

func (m *JobStoreMock) Delete(id string) error {
	return m.Called(id).Error(0)
}

var _ port.JobStore = (*JobStoreMock)(nil)
