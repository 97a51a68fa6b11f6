package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sd_control_bot/composite_renderer"
	"sd_control_bot/draft_form"
	"sd_control_bot/entities"
	"sd_control_bot/image_store"
	"sd_control_bot/preferences"
	"sd_control_bot/repositories/generation_history"
	"sd_control_bot/security"
	"sd_control_bot/stable_diffusion_api"
	"sd_control_bot/task_ledger"
)

var (
	ErrUnauthorized = errors.New("you are not authorized to use this bot")
	ErrQueueFull    = errors.New("the generation queue is full, try again later")
	ErrNotLikable   = errors.New("only successful tasks can be liked")
)

var randomPrompts = []string{
	"a serene mountain landscape at sunset",
	"a cute robot in a colorful garden",
	"a magical forest with glowing mushrooms",
	"a cozy coffee shop in the rain",
	"a majestic dragon flying over clouds",
	"a peaceful beach with crystal clear water",
	"a steampunk city with flying machines",
	"a lovely cottage surrounded by flowers",
}

const progressPollInterval = 1 * time.Second

type serviceImpl struct {
	guard        security.Guard
	prefs        preferences.Store
	forms        draft_form.Store
	ledger       task_ledger.Ledger
	snapshots    task_ledger.SnapshotCache
	historyRepo  generation_history.Repository
	sdAPI        stable_diffusion_api.StableDiffusionAPI
	imageStore   image_store.Store
	renderer     composite_renderer.Renderer
	maxQueueSize int

	// admitMu makes the depth check, rate check, and task creation one
	// atomic admission step; concurrent submissions would otherwise all
	// pass CheckRate before any of them records a stamp.
	admitMu sync.Mutex

	mu          sync.Mutex
	lastPrompts map[string]string
}

type Config struct {
	Guard              security.Guard
	Preferences        preferences.Store
	DraftForms         draft_form.Store
	Ledger             task_ledger.Ledger
	Snapshots          task_ledger.SnapshotCache
	HistoryRepo        generation_history.Repository
	StableDiffusionAPI stable_diffusion_api.StableDiffusionAPI
	ImageStore         image_store.Store
	MaxQueueSize       int
}

func New(cfg Config) (Service, error) {
	if cfg.Guard == nil {
		return nil, errors.New("missing security guard")
	}

	if cfg.Preferences == nil {
		return nil, errors.New("missing preference store")
	}

	if cfg.DraftForms == nil {
		return nil, errors.New("missing draft form store")
	}

	if cfg.Ledger == nil {
		return nil, errors.New("missing task ledger")
	}

	if cfg.Snapshots == nil {
		return nil, errors.New("missing snapshot cache")
	}

	if cfg.HistoryRepo == nil {
		return nil, errors.New("missing history repository")
	}

	if cfg.StableDiffusionAPI == nil {
		return nil, errors.New("missing stable diffusion API")
	}

	if cfg.ImageStore == nil {
		return nil, errors.New("missing image store")
	}

	if cfg.MaxQueueSize <= 0 {
		return nil, errors.New("missing max queue size")
	}

	renderer, err := composite_renderer.New(composite_renderer.Config{})
	if err != nil {
		return nil, err
	}

	return &serviceImpl{
		guard:        cfg.Guard,
		prefs:        cfg.Preferences,
		forms:        cfg.DraftForms,
		ledger:       cfg.Ledger,
		snapshots:    cfg.Snapshots,
		historyRepo:  cfg.HistoryRepo,
		sdAPI:        cfg.StableDiffusionAPI,
		imageStore:   cfg.ImageStore,
		renderer:     renderer,
		maxQueueSize: cfg.MaxQueueSize,
		lastPrompts:  make(map[string]string),
	}, nil
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// admit performs the whole admission sequence under one lock: queue capacity,
// rate window, task creation, and the rate stamp.
func (s *serviceImpl) admit(memberID, prompt string) (string, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if s.ledger.QueueDepth() >= s.maxQueueSize {
		return "", ErrQueueFull
	}

	if err := s.guard.CheckRate(memberID); err != nil {
		return "", err
	}

	taskID := newTaskID()

	s.ledger.Create(taskID, memberID, prompt)
	s.guard.RecordGeneration(memberID)

	return taskID, nil
}

func randomSeed() int64 {
	return rand.Int63n(1 << 32)
}

// Submit runs the whole pipeline for one generation attempt: guard checks,
// task bookkeeping, parameter resolution, the backend call and result
// persistence. Guard rejections happen before any state mutation.
func (s *serviceImpl) Submit(ctx context.Context, memberID, username, prompt string, opts SubmitOptions) (*Result, error) {
	if !s.guard.IsAuthorized(memberID) {
		return nil, ErrUnauthorized
	}

	if err := s.guard.ValidatePrompt(prompt); err != nil {
		return nil, err
	}

	params := s.resolveParameters(memberID, opts.UseDraftForm)

	return s.run(ctx, memberID, username, prompt, params, opts)
}

// Enhance replays a snapshotted task with its original parameters and a
// forced high-res pass. The prompt passed validation when the snapshot was
// taken and is replayed verbatim, so content validation is skipped; rate and
// queue capacity still apply.
func (s *serviceImpl) Enhance(ctx context.Context, memberID, username, taskID string, opts SubmitOptions) (*Result, error) {
	if !s.guard.IsAuthorized(memberID) {
		return nil, ErrUnauthorized
	}

	snapshot, err := s.snapshots.Load(taskID)
	if err != nil {
		return nil, err
	}

	params := draft_form.WithHiresPass(snapshot.Parameters)

	return s.run(ctx, memberID, username, snapshot.Prompt, params, opts)
}

func (s *serviceImpl) resolveParameters(memberID string, useDraftForm bool) entities.GenerationParameters {
	base := s.prefs.Get(memberID).Parameters()

	if useDraftForm {
		return s.forms.ResolveParameters(memberID, base)
	}

	// A concrete seed is always assigned so the snapshot can replay exactly.
	base.Seed = randomSeed()

	return base
}

func (s *serviceImpl) run(ctx context.Context, memberID, username, prompt string,
	params entities.GenerationParameters, opts SubmitOptions) (*Result, error) {
	taskID, err := s.admit(memberID, prompt)
	if err != nil {
		return nil, err
	}

	log.Printf("Processing task %s for %s: %q", taskID, memberID, prompt)

	if opts.OnAccepted != nil {
		opts.OnAccepted(taskID)
	}

	done := make(chan struct{})

	if opts.OnProgress != nil {
		go s.pollProgress(done, opts.OnProgress)
	}

	resp, err := s.sdAPI.TextToImage(ctx, &stable_diffusion_api.TextToImageRequest{
		Prompt:               prompt,
		GenerationParameters: params,
	})

	close(done)

	if err != nil {
		status := fmt.Sprintf("failed: %v", err)
		if stable_diffusion_api.IsTimeout(err) {
			status = "failed: generation timed out"
		}

		s.ledger.Complete(taskID, status)
		s.appendHistory(ctx, taskID, memberID, username, prompt, false, strings.TrimPrefix(status, "failed: "))

		return &Result{TaskID: taskID, Prompt: prompt}, fmt.Errorf("%s", strings.TrimPrefix(status, "failed: "))
	}

	if resp.Seed >= 0 {
		params.Seed = resp.Seed
	}

	image, err := s.renderResult(resp)
	if err != nil {
		s.ledger.Complete(taskID, fmt.Sprintf("failed: %v", err))
		s.appendHistory(ctx, taskID, memberID, username, prompt, false, err.Error())

		return &Result{TaskID: taskID, Prompt: prompt}, err
	}

	s.ledger.AttachResult(taskID, image, resp.InfoText)
	s.ledger.Complete(taskID, entities.TaskStatusSuccess)
	s.snapshots.Save(taskID, prompt, params)
	s.appendHistory(ctx, taskID, memberID, username, prompt, true, "")

	s.mu.Lock()
	s.lastPrompts[memberID] = prompt
	s.mu.Unlock()

	return &Result{
		TaskID:     taskID,
		Prompt:     prompt,
		Image:      image,
		Parameters: params,
	}, nil
}

func (s *serviceImpl) pollProgress(done <-chan struct{}, onProgress ProgressFunc) {
	for {
		select {
		case <-done:
			return
		case <-time.After(progressPollInterval):
			progress, err := s.sdAPI.GetCurrentProgress()
			if err != nil {
				log.Printf("Error getting current progress: %v", err)

				continue
			}

			if progress.Progress == 0 {
				continue
			}

			onProgress(progress.Progress, progress.EtaRelative)
		}
	}
}

func (s *serviceImpl) renderResult(resp *stable_diffusion_api.TextToImageResponse) ([]byte, error) {
	imageBufs := make([]*bytes.Buffer, 0, len(resp.Images))

	// The backend may return more images than we want to tile (control
	// images etc); cap at the renderer's grid.
	for _, image := range resp.Images {
		if len(imageBufs) == 4 {
			break
		}

		imageBufs = append(imageBufs, bytes.NewBuffer(image))
	}

	tiled, err := s.renderer.TileImages(imageBufs)
	if err != nil {
		return nil, err
	}

	return tiled.Bytes(), nil
}

// appendHistory is best-effort: a history write failure never fails the task.
func (s *serviceImpl) appendHistory(ctx context.Context, taskID, memberID, username, prompt string, success bool, errText string) {
	err := s.historyRepo.Append(ctx, &entities.HistoryEntry{
		TaskID:   taskID,
		MemberID: memberID,
		Username: username,
		Prompt:   prompt,
		Success:  success,
		Error:    errText,
	})
	if err != nil {
		log.Printf("Error appending history entry: %v", err)
	}
}

// Like marks a successful task as liked and persists its image locally with
// the generation parameters embedded.
func (s *serviceImpl) Like(memberID, taskID string) (string, error) {
	if !s.guard.IsAuthorized(memberID) {
		return "", ErrUnauthorized
	}

	task, err := s.ledger.Get(taskID)
	if err != nil {
		return "", err
	}

	if task.Status != entities.TaskStatusSuccess && task.Status != entities.TaskStatusLiked {
		return "", ErrNotLikable
	}

	image, infoText, err := s.ledger.Result(taskID)
	if err != nil {
		return "", err
	}

	path, err := s.imageStore.Save(image, infoText)
	if err != nil {
		return "", err
	}

	s.ledger.Complete(taskID, entities.TaskStatusLiked)

	return path, nil
}

// Interrupt fires the backend's advisory interrupt and marks the task. The
// in-flight txt2img call returns on its own with whatever the backend
// produced.
func (s *serviceImpl) Interrupt(memberID, taskID string) error {
	if !s.guard.IsAuthorized(memberID) {
		return ErrUnauthorized
	}

	if _, err := s.ledger.Get(taskID); err != nil {
		return err
	}

	if !s.sdAPI.Interrupt() {
		return fmt.Errorf("could not interrupt task %s", taskID)
	}

	s.ledger.Complete(taskID, entities.TaskStatusInterrupted)

	return nil
}

func (s *serviceImpl) RandomPrompt() string {
	return randomPrompts[rand.Intn(len(randomPrompts))]
}

func (s *serviceImpl) LastPrompt(memberID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt, ok := s.lastPrompts[memberID]

	return prompt, ok
}

func (s *serviceImpl) QueueDepth() int {
	return s.ledger.QueueDepth()
}

func (s *serviceImpl) Status(ctx context.Context) *StatusReport {
	report := &StatusReport{}

	if !s.sdAPI.CheckStatus() {
		return report
	}

	report.Online = true

	if model, err := s.sdAPI.CurrentModel(); err == nil {
		report.CurrentModel = model
	}

	if models, err := s.sdAPI.ListModels(); err == nil {
		report.ModelCount = len(models)
	}

	if samplers, err := s.sdAPI.ListSamplers(); err == nil {
		report.SamplerCount = len(samplers)
	}

	if progress, err := s.sdAPI.GetCurrentProgress(); err == nil {
		report.Progress = progress.Progress
		report.EtaSeconds = progress.EtaRelative
	}

	return report
}

func (s *serviceImpl) History(ctx context.Context, limit int) ([]*entities.HistoryEntry, error) {
	return s.historyRepo.Recent(ctx, limit)
}
