package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipstack/transcoder/internal/client"
	"github.com/clipstack/transcoder/internal/config"
	"github.com/clipstack/transcoder/internal/model"
	"github.com/clipstack/transcoder/internal/service"
	"github.com/clipstack/transcoder/internal/store"
	"github.com/clipstack/transcoder/internal/webhook"
	"github.com/clipstack/transcoder/internal/workspace"
)

// fakeEngine writes a marker file per output and replays canned progress
// fractions. It can be told to fail or panic on the nth Transcode call.
type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	failAt  int // 1-based call number, 0 = never
	panicAt int

	fractions []float64
	meta      *model.SourceMetadata
	probeErr  error
}

func (e *fakeEngine) Transcode(ctx context.Context, inputPath, outputPath string, spec model.OutputSpec, onProgress func(float64)) error {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()

	if e.panicAt != 0 && n == e.panicAt {
		panic("encoder blew up")
	}
	if e.failAt != 0 && n == e.failAt {
		return errors.New("ffmpeg failed: exit status 1: Invalid data found when processing input")
	}

	for _, f := range e.fractions {
		if onProgress != nil {
			onProgress(f)
		}
	}
	return os.WriteFile(outputPath, []byte("encoded bytes"), 0o644)
}

func (e *fakeEngine) Probe(ctx context.Context, path string) (*model.SourceMetadata, error) {
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	if e.meta != nil {
		return e.meta, nil
	}
	return &model.SourceMetadata{Duration: 12.5, Codec: "h264", Width: 1920, Height: 1080}, nil
}

// fakeStorage serves one source object and records uploaded keys.
type fakeStorage struct {
	mu       sync.Mutex
	uploaded []string
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.uploaded = append(s.uploaded, key)
	s.mu.Unlock()
	return "https://cdn.test/" + key, nil
}

func (s *fakeStorage) Download(ctx context.Context, key string, w io.Writer) error {
	_, err := w.Write([]byte("source bytes"))
	return err
}

func (s *fakeStorage) Head(ctx context.Context, key string) (*client.ObjectInfo, error) {
	return &client.ObjectInfo{Size: 12, ContentType: "video/mp4"}, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error { return nil }

func (s *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", nil
}

func (s *fakeStorage) GetPublicURL(key string) string { return "https://cdn.test/" + key }

func (s *fakeStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploaded...)
}

// recordingStore captures every persisted progress value per job.
type recordingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	progress map[string][]int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		MemoryStore: store.NewMemoryStore(),
		progress:    make(map[string][]int),
	}
}

func (s *recordingStore) Save(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	s.progress[job.ID] = append(s.progress[job.ID], job.Progress)
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, job)
}

func (s *recordingStore) progressFor(id string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress[id]...)
}

type testEnv struct {
	worker  *TranscodeWorker
	store   *recordingStore
	storage *fakeStorage
	jobs    *service.JobService
	workDir string
}

func newTestEnv(t *testing.T, eng *fakeEngine) *testEnv {
	t.Helper()

	st := newRecordingStore()
	storage := &fakeStorage{}
	jobs := service.NewJobService(st, nil, storage, model.DefaultPresets())

	cfg := &config.Config{
		Worker:   config.WorkerConfig{TranscodeTimeout: 30, ProbeTimeout: 5},
		Webhook:  config.WebhookConfig{MaxRetries: 2, BaseDelay: 0, MaxDelay: 0, Timeout: 5},
		Progress: config.ProgressConfig{MinDelta: 0, MinInterval: 0},
	}

	workDir := t.TempDir()
	notifier := webhook.NewNotifier(&cfg.Webhook)
	workspaces := workspace.NewManager(storage, workDir)

	return &testEnv{
		worker:  NewTranscodeWorker(jobs, eng, workspaces, storage, notifier, nil, cfg),
		store:   st,
		storage: storage,
		jobs:    jobs,
		workDir: workDir,
	}
}

func seedJob(t *testing.T, env *testEnv, id string, outputCount int, webhookURL string) *model.Job {
	t.Helper()

	specs := make([]model.OutputSpec, outputCount)
	for i := range specs {
		specs[i] = model.OutputSpec{Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac"}
	}

	job := &model.Job{
		ID:         id,
		MediaRef:   "media/" + id + ".mp4",
		Status:     model.JobStatusQueued,
		Outputs:    specs,
		WebhookURL: webhookURL,
		CreatedAt:  time.Now(),
	}
	if err := env.store.Save(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func makeTask(t *testing.T, job *model.Job) *asynq.Task {
	t.Helper()

	data, err := json.Marshal(model.TranscodeTaskPayload{
		JobID:      job.ID,
		MediaRef:   job.MediaRef,
		Outputs:    job.Outputs,
		WebhookURL: job.WebhookURL,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(service.TaskTypeTranscode, data)
}

func assertWorkDirEmpty(t *testing.T, env *testEnv) {
	t.Helper()
	entries, err := os.ReadDir(env.workDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected work dir cleaned, found %d entries", len(entries))
	}
}

func TestProcessTaskCompletesJob(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{0.25, 0.5, 0.75, 1}}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-ok", 2, "")

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	final, err := env.store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get final record: %v", err)
	}
	if final.Status != model.JobStatusCompleted {
		t.Errorf("expected completed, got %s (error: %v)", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Errorf("expected progress 100, got %d", final.Progress)
	}
	if len(final.Generated) != 2 {
		t.Fatalf("expected 2 generated outputs, got %d", len(final.Generated))
	}
	if final.Source == nil || final.Source.Codec != "h264" {
		t.Errorf("expected source metadata recorded, got %+v", final.Source)
	}

	wantKeys := []string{
		"jobs/job-ok/outputs/0/output-0.mp4",
		"jobs/job-ok/outputs/1/output-1.mp4",
	}
	for i, want := range wantKeys {
		if final.Generated[i].Key != want {
			t.Errorf("output %d key = %s, want %s", i, final.Generated[i].Key, want)
		}
		if final.Generated[i].URL == "" || final.Generated[i].Size == 0 {
			t.Errorf("output %d missing url/size: %+v", i, final.Generated[i])
		}
	}

	assertWorkDirEmpty(t, env)
}

func TestProcessTaskProgressMonotonic(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{0.1, 0.4, 0.4, 0.9, 1}}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-prog", 3, "")

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	seq := env.store.progressFor(job.ID)
	for i := 1; i < len(seq); i++ {
		if seq[i] < seq[i-1] {
			t.Fatalf("persisted progress decreased: %v", seq)
		}
	}
	if seq[len(seq)-1] != 100 {
		t.Errorf("expected final persisted progress 100, got %v", seq)
	}
}

func TestProcessTaskPartialOutputRetention(t *testing.T) {
	// Fail on the third of five outputs; the first two must survive.
	eng := &fakeEngine{fractions: []float64{1}, failAt: 3}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-partial", 5, "")

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask should swallow job-level failures, got %v", err)
	}

	final, _ := env.store.Get(context.Background(), job.ID)
	if final.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", final.Status)
	}
	if len(final.Generated) != 2 {
		t.Errorf("expected exactly 2 retained outputs, got %d", len(final.Generated))
	}
	if final.Error == nil || !strings.Contains(*final.Error, "ffmpeg failed") {
		t.Errorf("engine error not recorded verbatim: %v", final.Error)
	}

	assertWorkDirEmpty(t, env)
}

func TestProcessTaskCleanupOnPanic(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{1}, panicAt: 1}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-panic", 2, "")

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("panic should be converted into a job failure, got %v", err)
	}

	final, _ := env.store.Get(context.Background(), job.ID)
	if final.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", final.Status)
	}

	assertWorkDirEmpty(t, env)
}

func TestProcessTaskProbeFailureIsNonFatal(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{1}, probeErr: errors.New("ffprobe failed")}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-noprobe", 1, "")

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	final, _ := env.store.Get(context.Background(), job.ID)
	if final.Status != model.JobStatusCompleted {
		t.Errorf("probe failure must not fail the job, got %s", final.Status)
	}
	if final.Source != nil {
		t.Errorf("expected source metadata omitted, got %+v", final.Source)
	}
}

func TestProcessTaskSendsCompletionWebhook(t *testing.T) {
	var mu sync.Mutex
	var payloads []model.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p model.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			mu.Lock()
			payloads = append(payloads, p)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	eng := &fakeEngine{fractions: []float64{1}}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-hook", 2, srv.URL)

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", len(payloads))
	}
	p := payloads[0]
	if p.Status != model.JobStatusCompleted || p.JobID != job.ID {
		t.Errorf("unexpected payload: %+v", p)
	}
	if len(p.Outputs) != 2 {
		t.Errorf("expected 2 outputs in payload, got %d", len(p.Outputs))
	}
	if p.Metadata == nil || p.Metadata.Source == nil {
		t.Error("expected source metadata in payload")
	}
}

func TestProcessTaskSendsFailureWebhook(t *testing.T) {
	var mu sync.Mutex
	var payloads []model.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p model.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			mu.Lock()
			payloads = append(payloads, p)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	eng := &fakeEngine{fractions: []float64{1}, failAt: 1}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-hookfail", 1, srv.URL)

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", len(payloads))
	}
	if payloads[0].Status != model.JobStatusFailed || payloads[0].Error == "" {
		t.Errorf("unexpected failure payload: %+v", payloads[0])
	}
}

func TestProcessTaskWebhookFailureDoesNotAffectJob(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := &fakeEngine{fractions: []float64{1}}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-deadhook", 1, srv.URL)

	if err := env.worker.ProcessTask(context.Background(), makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	// 1 initial + 2 retries with the configured ceiling.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 webhook attempts, got %d", got)
	}

	final, _ := env.store.Get(context.Background(), job.ID)
	if final.Status != model.JobStatusCompleted {
		t.Errorf("webhook failure must not reopen the job, got %s", final.Status)
	}
}

func TestProcessTaskRedeliveryRestartsFromScratch(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{1}}
	env := newTestEnv(t, eng)
	job := seedJob(t, env, "job-redeliver", 2, "")

	// Simulate a crashed first attempt that left partial state behind.
	ctx := context.Background()
	crashed, _ := env.store.Get(ctx, job.ID)
	crashed.Status = model.JobStatusProcessing
	crashed.Progress = 60
	crashed.Generated = []model.GeneratedOutput{{Key: "jobs/job-redeliver/outputs/0/output-0.mp4"}}
	if err := env.store.Save(ctx, crashed); err != nil {
		t.Fatalf("seed crashed state: %v", err)
	}

	if err := env.worker.ProcessTask(ctx, makeTask(t, job)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	final, _ := env.store.Get(ctx, job.ID)
	if final.Status != model.JobStatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if len(final.Generated) != 2 {
		t.Errorf("expected outputs rebuilt from index 0, got %d entries", len(final.Generated))
	}
}

func TestProcessTaskConcurrentJobsAreIsolated(t *testing.T) {
	eng := &fakeEngine{fractions: []float64{0.5, 1}}
	env := newTestEnv(t, eng)
	jobA := seedJob(t, env, "job-a", 2, "")
	jobB := seedJob(t, env, "job-b", 2, "")

	var wg sync.WaitGroup
	for _, job := range []*model.Job{jobA, jobB} {
		wg.Add(1)
		go func(j *model.Job) {
			defer wg.Done()
			if err := env.worker.ProcessTask(context.Background(), makeTask(t, j)); err != nil {
				t.Errorf("ProcessTask(%s): %v", j.ID, err)
			}
		}(job)
	}
	wg.Wait()

	for _, id := range []string{"job-a", "job-b"} {
		final, err := env.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if final.Status != model.JobStatusCompleted {
			t.Errorf("%s: expected completed, got %s", id, final.Status)
		}
		if len(final.Generated) != 2 {
			t.Errorf("%s: expected 2 outputs, got %d", id, len(final.Generated))
		}
		for _, out := range final.Generated {
			if !strings.HasPrefix(out.Key, fmt.Sprintf("jobs/%s/", id)) {
				t.Errorf("%s: foreign output key %s", id, out.Key)
			}
		}
	}

	assertWorkDirEmpty(t, env)
}
