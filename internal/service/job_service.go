package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clipstack/transcoder/internal/client"
	"github.com/clipstack/transcoder/internal/model"
	"github.com/clipstack/transcoder/internal/store"
)

const (
	TaskTypeTranscode = "transcode:job"

	// Crash-redelivery allowance only: a job-level failure is recorded on
	// the job and reported to the queue as success, so retries fire solely
	// when a worker dies mid-job and the task lease expires.
	taskMaxRetry  = 2
	taskRetention = 24 * time.Hour
)

// Submission errors, mapped to response codes by the handler.
var (
	ErrInvalidInput      = errors.New("no supported output formats requested")
	ErrSourceNotFound    = errors.New("source media not found")
	ErrSourceUnsupported = errors.New("source is not a video")
	ErrUnavailable       = errors.New("service unavailable")
)

// ErrJobNotFound re-exported for handlers.
var ErrJobNotFound = store.ErrJobNotFound

// TaskEnqueuer is the slice of asynq.Client the service needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobService validates submissions, resolves presets, persists job records
// and enqueues the work. It is the only component that writes job records
// on behalf of callers; workers mutate jobs through its methods.
type JobService struct {
	store    store.JobStore
	enqueuer TaskEnqueuer
	storage  client.StorageClient
	presets  model.PresetTable
}

func NewJobService(jobStore store.JobStore, enqueuer TaskEnqueuer, storage client.StorageClient, presets model.PresetTable) *JobService {
	return &JobService{
		store:    jobStore,
		enqueuer: enqueuer,
		storage:  storage,
		presets:  presets,
	}
}

// Submit validates a submission, persists the job as queued and enqueues a
// work item. An empty output list falls back to the standard preset ladder.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitRequest) (*model.Job, error) {
	outputs := req.Outputs
	if len(outputs) == 0 {
		outputs = model.DefaultOutputRequests()
	}

	resolved := s.presets.Resolve(outputs)
	if len(resolved) == 0 {
		return nil, ErrInvalidInput
	}

	if err := s.checkSource(ctx, req.MediaRef); err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		MediaRef:   req.MediaRef,
		Status:     model.JobStatusQueued,
		Progress:   0,
		Outputs:    resolved,
		WebhookURL: req.WebhookURL,
		CreatedAt:  time.Now(),
	}

	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: failed to save job: %v", ErrUnavailable, err)
	}

	task, err := newTranscodeTask(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue("transcode"),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Retention(taskRetention),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enqueue job: %v", ErrUnavailable, err)
	}

	return job, nil
}

func (s *JobService) checkSource(ctx context.Context, mediaRef string) error {
	info, err := s.storage.Head(ctx, mediaRef)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return ErrSourceNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if strings.HasPrefix(info.ContentType, "video/") {
		return nil
	}
	if model.VideoExtensions[strings.ToLower(filepath.Ext(mediaRef))] {
		return nil
	}
	return ErrSourceUnsupported
}

// Get returns the current persisted job record.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Begin marks a job processing. A redelivered job restarts from scratch:
// progress, generated outputs and any earlier error are reset.
func (s *JobService) Begin(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.Status = model.JobStatusProcessing
	job.Progress = 0
	job.Generated = nil
	job.Error = nil
	job.StartedAt = &now
	job.CompletedAt = nil

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetSourceMetadata records best-effort probe results.
func (s *JobService) SetSourceMetadata(ctx context.Context, jobID string, meta *model.SourceMetadata) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Source = meta
	return s.store.Save(ctx, job)
}

// UpdateProgress persists a throttled progress value. Values never decrease.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if percent <= job.Progress {
		return nil
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	return s.store.Save(ctx, job)
}

// AppendOutput records one produced variant the instant it finishes.
func (s *JobService) AppendOutput(ctx context.Context, jobID string, out model.GeneratedOutput) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Generated = append(job.Generated, out)
	return s.store.Save(ctx, job)
}

// Complete marks the job completed with progress forced to 100 and returns
// the final record.
func (s *JobService) Complete(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Fail marks the job permanently failed with the engine's message recorded
// verbatim, and returns the final record.
func (s *JobService) Fail(ctx context.Context, jobID, errMsg string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.CompletedAt = &now

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func newTranscodeTask(job *model.Job) (*asynq.Task, error) {
	payload := model.TranscodeTaskPayload{
		JobID:      job.ID,
		MediaRef:   job.MediaRef,
		Outputs:    job.Outputs,
		WebhookURL: job.WebhookURL,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTranscode, data), nil
}
