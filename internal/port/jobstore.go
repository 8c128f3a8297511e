package port

import (
	"time"

	"github.com/bnema/vidaudio/internal/domain"
)

type JobStore interface {
	Save(j *domain.Job) error
	Get(id string) (*domain.Job, error)
	ListAll() ([]*domain.Job, error)
	ListExpired(before time.Time) ([]*domain.Job, error)
	Delete(id string) error
}
