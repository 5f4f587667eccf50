// Package jobs exposes the coordinator as a persistent job service: jobs
// are recorded in Postgres, run in the background under a concurrency
// limit, mirrored into Redis for cheap status polling, and announced on
// Kafka at every lifecycle transition.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/boostherd/boostherd/pkg/common/logger"
	"github.com/boostherd/boostherd/pkg/coordinator"
	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/events"
	"github.com/boostherd/boostherd/pkg/worker"
)

type Service struct {
	repo        *Repository
	producer    *events.Producer
	statusCache *redis.Client
	statusTTL   time.Duration

	artifactDir   string
	checkpointDir string

	workerSem chan struct{}
}

func NewService(repo *Repository, producer *events.Producer, statusCache *redis.Client,
	artifactDir, checkpointDir string, maxConcurrent int, statusTTL time.Duration) (*Service, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	s := &Service{
		repo:          repo,
		producer:      producer,
		statusCache:   statusCache,
		statusTTL:     statusTTL,
		artifactDir:   artifactDir,
		checkpointDir: checkpointDir,
		workerSem:     make(chan struct{}, maxConcurrent),
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Submit(ctx context.Context, input SubmitJobInput) (Job, error) {
	if input.TrainPath == "" {
		return Job{}, fmt.Errorf("train_path is required")
	}

	jobID := uuid.New()
	record := &JobModel{
		ID:                  jobID,
		Params:              datatypes.JSONMap(input.Params),
		TrainPath:           input.TrainPath,
		EvalPaths:           datatypes.JSONMap(evalPathsJSON(input.EvalPaths)),
		NumWorkers:          input.NumWorkers,
		GPUsPerWorker:       input.GPUsPerWorker,
		MaxRestarts:         input.MaxRestarts,
		Rounds:              input.Rounds,
		CheckpointPrefix:    input.CheckpointPrefix,
		CheckpointFrequency: input.CheckpointFrequency,
		KeepCheckpoints:     input.KeepCheckpoints,
		Status:              StatusQueued,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return Job{}, err
	}

	s.publish(events.TypeJobQueued, jobID, nil)
	s.cacheStatus(jobID, StatusQueued)

	go s.run(jobID, input)
	return toDomain(record), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return toDomain(record), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Job, error) {
	records, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Job, 0, len(records))
	for i := range records {
		results = append(results, toDomain(&records[i]))
	}
	return results, nil
}

// CachedStatus returns the Redis-mirrored status, falling back to the
// database when the cache is cold or absent.
func (s *Service) CachedStatus(ctx context.Context, id uuid.UUID) (string, error) {
	if s.statusCache != nil {
		status, err := s.statusCache.Get(ctx, statusKey(id)).Result()
		if err == nil {
			return status, nil
		}
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}

func (s *Service) run(jobID uuid.UUID, input SubmitJobInput) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	started := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, jobID, StatusRunning, nil, "", ""); err != nil {
		logger.Log.WithError(err).Error("Failed to mark job running")
	}
	if err := s.repo.SetTimestamps(ctx, jobID, &started, nil); err != nil {
		logger.Log.WithError(err).Error("Failed to set start timestamp")
	}
	s.publish(events.TypeJobStarted, jobID, nil)
	s.cacheStatus(jobID, StatusRunning)

	result, err := coordinator.RunJob(ctx, coordinator.TrainingJob{
		Params:              input.Params,
		Train:               dataset.NewCSVHandle(input.TrainPath),
		Evals:               evalHandles(input.EvalPaths),
		NumWorkers:          input.NumWorkers,
		GPUsPerWorker:       input.GPUsPerWorker,
		MaxRestarts:         input.MaxRestarts,
		Rounds:              input.Rounds,
		CheckpointPrefix:    input.CheckpointPrefix,
		CheckpointDir:       s.checkpointDir,
		CheckpointFrequency: input.CheckpointFrequency,
		KeepCheckpoints:     input.KeepCheckpoints,
	})
	if err != nil {
		s.failJob(ctx, jobID, err)
		return
	}

	modelPath := filepath.Join(s.artifactDir, jobID.String()+".xgb")
	if err := os.WriteFile(modelPath, result.Model, 0o644); err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("write model artifact: %w", err))
		return
	}

	metrics := make(map[string]interface{}, len(result.EvalMetrics))
	for name, series := range result.EvalMetrics {
		metrics[name] = series
	}

	if err := s.repo.UpdateStatus(ctx, jobID, StatusCompleted, metrics, modelPath, ""); err != nil {
		logger.Log.WithError(err).Error("Failed to mark job complete")
	}
	completed := time.Now().UTC()
	if err := s.repo.SetTimestamps(ctx, jobID, nil, &completed); err != nil {
		logger.Log.WithError(err).Error("Failed to set completion timestamp")
	}
	s.publish(events.TypeJobCompleted, jobID, map[string]interface{}{"model_path": modelPath})
	s.cacheStatus(jobID, StatusCompleted)
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	logger.Log.WithError(err).WithField("job_id", jobID).Error("Training job failed")
	var exhausted *coordinator.RetryExhaustedError
	if errors.As(err, &exhausted) {
		if setErr := s.repo.SetAttempts(ctx, jobID, exhausted.Attempts); setErr != nil {
			logger.Log.WithError(setErr).Error("Failed to record job attempts")
		}
		if exhausted.Attempts > 1 {
			s.publish(events.TypeJobRestarted, jobID, map[string]interface{}{"attempts": exhausted.Attempts})
		}
	}
	if updateErr := s.repo.UpdateStatus(ctx, jobID, StatusFailed, nil, "", err.Error()); updateErr != nil {
		logger.Log.WithError(updateErr).Error("Failed to mark job failed")
	}
	completed := time.Now().UTC()
	_ = s.repo.SetTimestamps(ctx, jobID, nil, &completed)
	s.publish(events.TypeJobFailed, jobID, map[string]interface{}{"error": err.Error()})
	s.cacheStatus(jobID, StatusFailed)
}

func (s *Service) publish(eventType string, jobID uuid.UUID, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.producer.Publish(ctx, eventType, jobID.String(), data); err != nil {
		logger.Log.WithError(err).Debug("Job event not published")
	}
}

func (s *Service) cacheStatus(jobID uuid.UUID, status string) {
	if s.statusCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.statusCache.Set(ctx, statusKey(jobID), status, s.statusTTL).Err(); err != nil {
		logger.Log.WithError(err).Debug("Job status not cached")
	}
}

func statusKey(id uuid.UUID) string {
	return "boostherd:job:" + id.String() + ":status"
}

// evalHandles builds handles in a stable name order so every run of the
// same job sees the same evaluation layout.
func evalHandles(paths map[string]string) []worker.EvalHandle {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	handles := make([]worker.EvalHandle, 0, len(names))
	for _, name := range names {
		handles = append(handles, worker.EvalHandle{
			Handle: dataset.NewCSVHandle(paths[name]),
			Name:   name,
		})
	}
	return handles
}

func evalPathsJSON(paths map[string]string) map[string]interface{} {
	if len(paths) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(paths))
	for name, path := range paths {
		out[name] = path
	}
	return out
}
