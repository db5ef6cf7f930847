package repository

import (
	"context"
	"errors"

	"campuspay/internal/model"

	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("任务不存在")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}
