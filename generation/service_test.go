package generation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sd_control_bot/draft_form"
	"sd_control_bot/entities"
	"sd_control_bot/image_store"
	"sd_control_bot/preferences"
	"sd_control_bot/security"
	"sd_control_bot/stable_diffusion_api"
	"sd_control_bot/task_ledger"
)

type fakeSDAPI struct {
	images      [][]byte
	seed        int64
	infoText    string
	generateErr error

	mu          sync.Mutex
	calls       int
	lastRequest *stable_diffusion_api.TextToImageRequest
	interrupted bool
}

func (f *fakeSDAPI) CheckStatus() bool { return true }

func (f *fakeSDAPI) ListModels() ([]string, error) { return []string{"model_a"}, nil }

func (f *fakeSDAPI) ListSamplers() ([]string, error) { return []string{"Euler a"}, nil }

func (f *fakeSDAPI) CurrentModel() (string, error) { return "model_a", nil }

func (f *fakeSDAPI) GetCurrentProgress() (*stable_diffusion_api.ProgressResponse, error) {
	return &stable_diffusion_api.ProgressResponse{}, nil
}

func (f *fakeSDAPI) TextToImage(ctx context.Context, req *stable_diffusion_api.TextToImageRequest) (*stable_diffusion_api.TextToImageResponse, error) {
	f.mu.Lock()
	f.calls++
	f.lastRequest = req
	f.mu.Unlock()

	if f.generateErr != nil {
		return nil, f.generateErr
	}

	return &stable_diffusion_api.TextToImageResponse{
		Images:   f.images,
		Seed:     f.seed,
		InfoText: f.infoText,
	}, nil
}

func (f *fakeSDAPI) Interrupt() bool {
	f.mu.Lock()
	f.interrupted = true
	f.mu.Unlock()

	return true
}

func (f *fakeSDAPI) backendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*entities.HistoryEntry
}

func (f *fakeHistoryRepo) Append(ctx context.Context, entry *entities.HistoryEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()

	return nil
}

func (f *fakeHistoryRepo) Recent(ctx context.Context, limit int) ([]*entities.HistoryEntry, error) {
	return f.entries, nil
}

type testHarness struct {
	service   Service
	sdAPI     *fakeSDAPI
	ledger    task_ledger.Ledger
	snapshots task_ledger.SnapshotCache
	history   *fakeHistoryRepo
	imageDir  string
}

func newTestHarness(t *testing.T, maxQueueSize int) *testHarness {
	t.Helper()

	dir := t.TempDir()

	guard, err := security.New(security.Config{
		AuthorizedUsers: []string{"100", "200", "300"},
		MaxPromptLength: 500,
		RateLimit:       3,
		RateWindow:      300 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	prefs, err := preferences.New(preferences.Config{
		FilePath: filepath.Join(dir, "preferences.json"),
		Defaults: entities.UserPreferences{
			Width:       1024,
			Height:      1024,
			Steps:       20,
			CfgScale:    7.0,
			SamplerName: "Euler a",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	snapshots, err := task_ledger.NewSnapshotCache(task_ledger.SnapshotConfig{
		FilePath: filepath.Join(dir, "snapshots.json"),
		Capacity: 50,
	})
	if err != nil {
		t.Fatal(err)
	}

	imageDir := filepath.Join(dir, "images")

	images, err := image_store.New(image_store.Config{Dir: imageDir})
	if err != nil {
		t.Fatal(err)
	}

	ledger := task_ledger.New(task_ledger.Config{})
	sdAPI := &fakeSDAPI{
		images:   [][]byte{[]byte("fake png bytes")},
		seed:     1234,
		infoText: "a cat, Steps: 20, Seed: 1234",
	}
	history := &fakeHistoryRepo{}

	service, err := New(Config{
		Guard:              guard,
		Preferences:        prefs,
		DraftForms:         draft_form.New(),
		Ledger:             ledger,
		Snapshots:          snapshots,
		HistoryRepo:        history,
		StableDiffusionAPI: sdAPI,
		ImageStore:         images,
		MaxQueueSize:       maxQueueSize,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &testHarness{
		service:   service,
		sdAPI:     sdAPI,
		ledger:    ledger,
		snapshots: snapshots,
		history:   history,
		imageDir:  imageDir,
	}
}

func TestService_SubmitSuccess(t *testing.T) {
	h := newTestHarness(t, 5)

	result, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	if !bytes.Equal(result.Image, []byte("fake png bytes")) {
		t.Error("Submit() result image does not match backend output")
	}

	task, err := h.ledger.Get(result.TaskID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v, want nil", result.TaskID, err)
	}

	if task.Status != entities.TaskStatusSuccess {
		t.Errorf("task status = %q, want %q", task.Status, entities.TaskStatusSuccess)
	}

	snapshot, err := h.snapshots.Load(result.TaskID)
	if err != nil {
		t.Fatalf("Load(%s) error = %v, want a snapshot", result.TaskID, err)
	}

	if snapshot.Prompt != "a cat" {
		t.Errorf("snapshot prompt = %q, want %q", snapshot.Prompt, "a cat")
	}

	if snapshot.Parameters.Seed != 1234 {
		t.Errorf("snapshot seed = %d, want the backend's 1234", snapshot.Parameters.Seed)
	}

	if snapshot.Parameters.Width != 1024 || snapshot.Parameters.Steps != 20 {
		t.Errorf("snapshot parameters = %+v, want preference defaults", snapshot.Parameters)
	}

	if prompt, ok := h.service.LastPrompt("100"); !ok || prompt != "a cat" {
		t.Errorf("LastPrompt() = %q, %v, want %q, true", prompt, ok, "a cat")
	}

	if len(h.history.entries) != 1 || !h.history.entries[0].Success {
		t.Errorf("history entries = %+v, want one success entry", h.history.entries)
	}

	if h.service.QueueDepth() != 0 {
		t.Errorf("QueueDepth() = %d after completion, want 0", h.service.QueueDepth())
	}
}

func TestService_SubmitRejectsUnsafePrompt(t *testing.T) {
	h := newTestHarness(t, 5)

	_, err := h.service.Submit(context.Background(), "100", "alice", "graphic violence scene", SubmitOptions{})
	if err == nil || !strings.Contains(err.Error(), "disallowed content") {
		t.Fatalf("Submit() error = %v, want a disallowed content error", err)
	}

	if h.sdAPI.calls != 0 {
		t.Errorf("backend calls = %d, want 0 for a rejected prompt", h.sdAPI.calls)
	}

	if h.service.QueueDepth() != 0 || h.snapshots.Len() != 0 || len(h.history.entries) != 0 {
		t.Error("rejected prompt left task state behind")
	}
}

func TestService_SubmitUnauthorized(t *testing.T) {
	h := newTestHarness(t, 5)

	_, err := h.service.Submit(context.Background(), "999", "mallory", "a cat", SubmitOptions{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Submit() error = %v, want ErrUnauthorized", err)
	}

	if h.sdAPI.calls != 0 {
		t.Errorf("backend calls = %d, want 0 for an unauthorized member", h.sdAPI.calls)
	}
}

func TestService_SubmitTimeout(t *testing.T) {
	h := newTestHarness(t, 5)
	h.sdAPI.generateErr = context.DeadlineExceeded

	result, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Submit() error = %v, want a timeout error", err)
	}

	task, lookupErr := h.ledger.Get(result.TaskID)
	if lookupErr != nil {
		t.Fatalf("Get(%s) error = %v, want nil", result.TaskID, lookupErr)
	}

	if task.Status != "failed: generation timed out" {
		t.Errorf("task status = %q, want %q", task.Status, "failed: generation timed out")
	}

	if _, loadErr := h.snapshots.Load(result.TaskID); loadErr == nil {
		t.Error("snapshot saved for a failed task, want none")
	}

	if len(h.history.entries) != 1 || h.history.entries[0].Success {
		t.Errorf("history entries = %+v, want one failure entry", h.history.entries)
	}
}

func TestService_SubmitQueueFull(t *testing.T) {
	h := newTestHarness(t, 1)

	h.ledger.Create("pending1", "200", "in flight")

	_, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}

	if h.sdAPI.calls != 0 {
		t.Errorf("backend calls = %d, want 0 when the queue is full", h.sdAPI.calls)
	}
}

func TestService_SubmitRateLimited(t *testing.T) {
	h := newTestHarness(t, 10)

	for i := 0; i < 3; i++ {
		if _, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{}); err != nil {
			t.Fatalf("Submit() #%d error = %v, want nil", i+1, err)
		}
	}

	_, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("Submit() #4 error = %v, want a rate limit error", err)
	}

	// Other members are unaffected by a full window.
	if _, err := h.service.Submit(context.Background(), "200", "bob", "a dog", SubmitOptions{}); err != nil {
		t.Errorf("Submit() for another member error = %v, want nil", err)
	}
}

func TestService_Enhance(t *testing.T) {
	h := newTestHarness(t, 5)

	result, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	enhanced, err := h.service.Enhance(context.Background(), "100", "alice", result.TaskID, SubmitOptions{})
	if err != nil {
		t.Fatalf("Enhance() error = %v, want nil", err)
	}

	if enhanced.Prompt != "a cat" {
		t.Errorf("Enhance() prompt = %q, want the snapshot prompt", enhanced.Prompt)
	}

	req := h.sdAPI.lastRequest
	if !req.EnableHR {
		t.Error("Enhance() request has EnableHR = false, want true")
	}

	if req.HRSecondPassSteps != 10 {
		t.Errorf("Enhance() HRSecondPassSteps = %d, want 10 from 20 base steps", req.HRSecondPassSteps)
	}

	if req.Seed != 1234 {
		t.Errorf("Enhance() seed = %d, want the snapshotted 1234", req.Seed)
	}
}

func TestService_EnhanceUnknownTask(t *testing.T) {
	h := newTestHarness(t, 5)

	if _, err := h.service.Enhance(context.Background(), "100", "alice", "missing", SubmitOptions{}); err == nil {
		t.Fatal("Enhance(missing) error = nil, want not found")
	}

	if h.sdAPI.calls != 0 {
		t.Errorf("backend calls = %d, want 0 for an unknown snapshot", h.sdAPI.calls)
	}
}

func TestService_Like(t *testing.T) {
	h := newTestHarness(t, 5)

	result, err := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	path, err := h.service.Like("100", result.TaskID)
	if err != nil {
		t.Fatalf("Like() error = %v, want nil", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("liked image not saved at %s: %v", path, err)
	}

	task, _ := h.ledger.Get(result.TaskID)
	if task.Status != entities.TaskStatusLiked {
		t.Errorf("task status = %q, want %q", task.Status, entities.TaskStatusLiked)
	}

	// Liking twice just re-saves; still allowed.
	if _, err := h.service.Like("100", result.TaskID); err != nil {
		t.Errorf("second Like() error = %v, want nil", err)
	}
}

func TestService_LikeFailedTask(t *testing.T) {
	h := newTestHarness(t, 5)
	h.sdAPI.generateErr = errors.New("boom")

	result, _ := h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})

	if _, err := h.service.Like("100", result.TaskID); !errors.Is(err, ErrNotLikable) {
		t.Fatalf("Like() on failed task error = %v, want ErrNotLikable", err)
	}
}

func TestService_Interrupt(t *testing.T) {
	h := newTestHarness(t, 5)

	h.ledger.Create("abc", "100", "slow prompt")

	if err := h.service.Interrupt("100", "abc"); err != nil {
		t.Fatalf("Interrupt() error = %v, want nil", err)
	}

	if !h.sdAPI.interrupted {
		t.Error("backend interrupt not fired")
	}

	task, _ := h.ledger.Get("abc")
	if task.Status != entities.TaskStatusInterrupted {
		t.Errorf("task status = %q, want %q", task.Status, entities.TaskStatusInterrupted)
	}

	if err := h.service.Interrupt("100", "missing"); err == nil {
		t.Error("Interrupt(missing) error = nil, want not found")
	}
}

func TestService_InterruptUnauthorized(t *testing.T) {
	h := newTestHarness(t, 5)

	h.ledger.Create("abc", "100", "slow prompt")

	if err := h.service.Interrupt("999", "abc"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Interrupt() error = %v, want ErrUnauthorized", err)
	}

	if h.sdAPI.interrupted {
		t.Error("backend interrupt fired for an unauthorized member")
	}

	task, _ := h.ledger.Get("abc")
	if task.Completed || task.Status != entities.TaskStatusPending {
		t.Errorf("task = %+v, want still pending", task)
	}
}

func TestService_ConcurrentSubmitsRespectRateLimit(t *testing.T) {
	h := newTestHarness(t, 20)

	const attempts = 8

	var wg sync.WaitGroup

	errs := make([]error, attempts)

	for n := 0; n < attempts; n++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_, errs[n] = h.service.Submit(context.Background(), "100", "alice", "a cat", SubmitOptions{})
		}(n)
	}

	wg.Wait()

	successes := 0

	for _, err := range errs {
		if err == nil {
			successes++

			continue
		}

		if !strings.Contains(err.Error(), "rate limit") {
			t.Errorf("Submit() error = %v, want a rate limit error", err)
		}
	}

	if successes != 3 {
		t.Errorf("concurrent submissions admitted = %d, want exactly the rate limit of 3", successes)
	}

	if calls := h.sdAPI.backendCalls(); calls != 3 {
		t.Errorf("backend calls = %d, want 3", calls)
	}
}

func TestService_RandomPrompt(t *testing.T) {
	h := newTestHarness(t, 5)

	prompt := h.service.RandomPrompt()
	if prompt == "" {
		t.Fatal("RandomPrompt() returned an empty string")
	}
}

func TestService_Status(t *testing.T) {
	h := newTestHarness(t, 5)

	report := h.service.Status(context.Background())
	if !report.Online {
		t.Fatal("Status() Online = false, want true")
	}

	if report.CurrentModel != "model_a" || report.ModelCount != 1 || report.SamplerCount != 1 {
		t.Errorf("Status() = %+v, want backend inventory", report)
	}
}
