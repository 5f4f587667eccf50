package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type JobModel struct {
	ID     uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Params datatypes.JSONMap `gorm:"column:params"`

	TrainPath string            `gorm:"column:train_path"`
	EvalPaths datatypes.JSONMap `gorm:"column:eval_paths"`

	NumWorkers          int    `gorm:"column:num_workers"`
	GPUsPerWorker       int    `gorm:"column:gpus_per_worker"`
	MaxRestarts         int    `gorm:"column:max_restarts"`
	Rounds              int    `gorm:"column:rounds"`
	CheckpointPrefix    string `gorm:"column:checkpoint_prefix"`
	CheckpointFrequency int    `gorm:"column:checkpoint_frequency"`
	KeepCheckpoints     bool   `gorm:"column:keep_checkpoints"`

	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ModelPath    string            `gorm:"column:model_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	Attempts     int               `gorm:"column:attempts"`

	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (JobModel) TableName() string {
	return "training_jobs"
}

// SubmitJobInput is what the API accepts for a new training job.
type SubmitJobInput struct {
	Params              map[string]interface{} `json:"params"`
	TrainPath           string                 `json:"train_path"`
	EvalPaths           map[string]string      `json:"eval_paths"`
	NumWorkers          int                    `json:"num_workers"`
	GPUsPerWorker       int                    `json:"gpus_per_worker"`
	MaxRestarts         int                    `json:"max_restarts"`
	Rounds              int                    `json:"rounds"`
	CheckpointPrefix    string                 `json:"checkpoint_prefix"`
	CheckpointFrequency int                    `json:"checkpoint_frequency"`
	KeepCheckpoints     bool                   `json:"keep_checkpoints"`
}

// Job is the external view of a training job.
type Job struct {
	ID           uuid.UUID              `json:"id"`
	Status       string                 `json:"status"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ModelPath    string                 `json:"model_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Attempts     int                    `json:"attempts"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

func toDomain(job *JobModel) Job {
	result := Job{
		ID:           job.ID,
		Status:       job.Status,
		ModelPath:    job.ModelPath,
		ErrorMessage: job.ErrorMessage,
		Attempts:     job.Attempts,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Params != nil {
		result.Params = map[string]interface{}(job.Params)
	}
	if job.Metrics != nil {
		result.Metrics = map[string]interface{}(job.Metrics)
	}
	return result
}
