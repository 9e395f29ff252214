package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ScriptToMovie-server/models"

	"gorm.io/gorm"
)

// In-memory Repo.

type fakeRepo struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	scenes   map[string][]models.Scene
	tasks    map[string]*models.GenerationTask // sceneID|stage
	finals   map[string]*models.FinalArtifact  // projectID|kind

	statusHistory  []string
	getOrCreateErr func(sceneID, stage string) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		projects: make(map[string]*models.Project),
		scenes:   make(map[string][]models.Scene),
		tasks:    make(map[string]*models.GenerationTask),
		finals:   make(map[string]*models.FinalArtifact),
	}
}

func (r *fakeRepo) addProject(p *models.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p
}

func (r *fakeRepo) addScene(sc models.Scene) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes[sc.ProjectId] = append(r.scenes[sc.ProjectId], sc)
	sort.Slice(r.scenes[sc.ProjectId], func(i, j int) bool {
		return r.scenes[sc.ProjectId][i].Order < r.scenes[sc.ProjectId][j].Order
	})
}

func (r *fakeRepo) GetProject(ctx context.Context, id string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

func (r *fakeRepo) SetProjectState(ctx context.Context, id, status string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.Status = status
	if progress > p.Progress {
		p.Progress = progress
	}
	r.statusHistory = append(r.statusHistory, status)
	return nil
}

func (r *fakeRepo) SetProjectFailure(ctx context.Context, id, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.Status = status
	p.ErrorMessage = errMsg
	return nil
}

func (r *fakeRepo) AddProjectWarnings(ctx context.Context, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.WarningCount += n
	return nil
}

func (r *fakeRepo) SetProjectVisualProfile(ctx context.Context, id, profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.VisualProfile = profile
	return nil
}

func (r *fakeRepo) ListScenes(ctx context.Context, projectID string) ([]models.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Scene, len(r.scenes[projectID]))
	copy(out, r.scenes[projectID])
	return out, nil
}

func (r *fakeRepo) CreateScenes(ctx context.Context, projectID string, scenes []models.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes[projectID] = append(r.scenes[projectID], scenes...)
	sort.Slice(r.scenes[projectID], func(i, j int) bool {
		return r.scenes[projectID][i].Order < r.scenes[projectID][j].Order
	})
	if p, ok := r.projects[projectID]; ok {
		p.SceneCount = len(r.scenes[projectID])
	}
	return nil
}

func taskKey(sceneID, stage string) string { return sceneID + "|" + stage }

func (r *fakeRepo) GetOrCreateTask(ctx context.Context, projectID, sceneID, stage string) (*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getOrCreateErr != nil {
		if err := r.getOrCreateErr(sceneID, stage); err != nil {
			return nil, err
		}
	}
	if t, ok := r.tasks[taskKey(sceneID, stage)]; ok {
		return t, nil
	}
	t := &models.GenerationTask{
		ID:        models.NewID(),
		ProjectId: projectID,
		SceneId:   sceneID,
		Stage:     stage,
		Status:    models.TaskStatusPending,
	}
	r.tasks[taskKey(sceneID, stage)] = t
	return t, nil
}

func (r *fakeRepo) SaveTask(ctx context.Context, task *models.GenerationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskKey(task.SceneId, task.Stage)] = task
	return nil
}

func (r *fakeRepo) GetTask(ctx context.Context, sceneID, stage string) (*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskKey(sceneID, stage)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (r *fakeRepo) UpsertFinalArtifact(ctx context.Context, fa *models.FinalArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *fa
	r.finals[fa.ProjectId+"|"+fa.Kind] = &cp
	return nil
}

func (r *fakeRepo) GetFinalArtifact(ctx context.Context, projectID, kind string) (*models.FinalArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fa, ok := r.finals[projectID+"|"+kind]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return fa, nil
}

// In-memory ArtifactStore.

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts++
	return "mem://" + key, nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

// Configurable Capability.

type fakeCap struct {
	mu          sync.Mutex
	textCalls   int
	imageCalls  int
	videoCalls  int
	speechCalls int

	breakdown     []sceneData
	clipSeconds   float64
	speechSeconds float64

	textFn   func(prompt string) (string, error)
	imageFn  func(prompt, ref string) ([]byte, error)
	videoFn  func(prompt, ref string, dur int) ([]byte, error)
	speechFn func(text string) ([]byte, error)
}

func newFakeCap() *fakeCap {
	return &fakeCap{
		clipSeconds:   5.0,
		speechSeconds: 2.0,
		breakdown: []sceneData{
			{Order: 0, Title: "Opening", Description: "description 0", Setting: "alley", Characters: []string{"MARA"}, Dialogue: "MARA: We shouldn't be here.", Duration: 5},
			{Order: 1, Title: "Chase", Description: "description 1", Setting: "rooftop", Duration: 6},
			{Order: 2, Title: "Ending", Description: "description 2", Setting: "harbor", Dialogue: "MARA: It's over.", Duration: 4},
		},
	}
}

func (f *fakeCap) counts() (text, image, video, speech int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls, f.imageCalls, f.videoCalls, f.speechCalls
}

func (f *fakeCap) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.textCalls++
	fn := f.textFn
	f.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	if strings.Contains(prompt, "screenplay analyst") {
		b, _ := json.Marshal(sceneBreakdownResult{Scenes: f.breakdown})
		return string(b), nil
	}
	if strings.Contains(prompt, "visual continuity designer") {
		var res visualProfileResult
		seenChar := make(map[string]bool)
		seenSet := make(map[string]bool)
		for _, sd := range f.breakdown {
			for _, c := range sd.Characters {
				if !seenChar[c] {
					seenChar[c] = true
					res.Characters = append(res.Characters, visualEntry{Name: c, Appearance: "profile of " + c})
				}
			}
			if sd.Setting != "" && !seenSet[sd.Setting] {
				seenSet[sd.Setting] = true
				res.Settings = append(res.Settings, visualEntry{Name: sd.Setting, Appearance: "look of " + sd.Setting})
			}
		}
		b, _ := json.Marshal(res)
		return string(b), nil
	}
	if strings.Contains(prompt, "cinematography prompt writer") {
		desc := prompt
		if idx := strings.LastIndex(prompt, "Scene description:"); idx >= 0 {
			desc = strings.TrimSpace(prompt[idx+len("Scene description:"):])
		}
		if idx := strings.Index(desc, "\n\nRespond with valid JSON"); idx >= 0 {
			desc = strings.TrimSpace(desc[:idx])
		}
		b, _ := json.Marshal(motionPromptResult{Prompt: "MOTION " + desc})
		return string(b), nil
	}
	return "{}", nil
}

func (f *fakeCap) GenerateImage(ctx context.Context, prompt, ref string) ([]byte, error) {
	f.mu.Lock()
	f.imageCalls++
	fn := f.imageFn
	f.mu.Unlock()
	if fn != nil {
		return fn(prompt, ref)
	}
	return []byte("imagebytes"), nil
}

func (f *fakeCap) GenerateVideo(ctx context.Context, prompt, ref string, dur int) ([]byte, error) {
	f.mu.Lock()
	f.videoCalls++
	fn := f.videoFn
	secs := f.clipSeconds
	f.mu.Unlock()
	if fn != nil {
		return fn(prompt, ref, dur)
	}
	return []byte(fmt.Sprintf("video;dur=%.1f", secs)), nil
}

func (f *fakeCap) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.speechCalls++
	fn := f.speechFn
	secs := f.speechSeconds
	f.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return []byte(fmt.Sprintf("audio;dur=%.1f", secs)), nil
}

// In-memory Lease.

type fakeLease struct {
	mu       sync.Mutex
	held     map[string]string
	acquires int
	next     int
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: make(map[string]string)}
}

func (l *fakeLease) Acquire(ctx context.Context, projectID string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if _, ok := l.held[projectID]; ok {
		return "", ErrAlreadyRunning
	}
	l.next++
	token := fmt.Sprintf("token-%d", l.next)
	l.held[projectID] = token
	return token, nil
}

func (l *fakeLease) Extend(ctx context.Context, projectID, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] != token {
		return fmt.Errorf("lease not held")
	}
	return nil
}

func (l *fakeLease) Release(ctx context.Context, projectID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] == token {
		delete(l.held, projectID)
	}
	return nil
}

// MediaTool fake: file contents carry "dur=<seconds>"; normalize/placeholder
// write segment files, concat records the join order.

type normalizeCall struct {
	clipPath  string
	audioPath string
	target    float64
	outPath   string
}

type fakeMedia struct {
	mu           sync.Mutex
	normalized   []normalizeCall
	placeholders []float64
	concatOrder  []string
	concatErr    error
}

func newFakeMedia() *fakeMedia { return &fakeMedia{} }

func parseDur(content string) (float64, error) {
	idx := strings.Index(content, "dur=")
	if idx < 0 {
		return 0, fmt.Errorf("no duration marker in %q", content)
	}
	rest := content[idx+len("dur="):]
	if semi := strings.Index(rest, ";"); semi >= 0 {
		rest = rest[:semi]
	}
	return strconv.ParseFloat(strings.TrimSpace(rest), 64)
}

func (m *fakeMedia) Probe(ctx context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return parseDur(string(data))
}

func (m *fakeMedia) NormalizeSegment(ctx context.Context, clipPath, audioPath string, target float64, outPath string) error {
	m.mu.Lock()
	m.normalized = append(m.normalized, normalizeCall{clipPath, audioPath, target, outPath})
	m.mu.Unlock()
	return os.WriteFile(outPath, []byte(fmt.Sprintf("segment;dur=%.1f", target)), 0644)
}

func (m *fakeMedia) Placeholder(ctx context.Context, seconds float64, outPath string) error {
	m.mu.Lock()
	m.placeholders = append(m.placeholders, seconds)
	m.mu.Unlock()
	return os.WriteFile(outPath, []byte(fmt.Sprintf("placeholder;dur=%.1f", seconds)), 0644)
}

func (m *fakeMedia) Concat(ctx context.Context, segmentPaths []string, outPath string) error {
	m.mu.Lock()
	m.concatOrder = append([]string{}, segmentPaths...)
	err := m.concatErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("movie;dur=0"), 0644)
}

// Test pipeline wiring.

func testConfig() PipelineConfig {
	return PipelineConfig{
		Concurrency:        2,
		MaxAttempts:        3,
		Backoff:            time.Millisecond,
		CallTimeout:        5 * time.Second,
		LeaseTTL:           time.Minute,
		SkipPolicy:         SkipPolicyOmit,
		PlaceholderSeconds: 3,
	}
}

type testEnv struct {
	repo  *fakeRepo
	store *fakeStore
	cap   *fakeCap
	lease *fakeLease
	media *fakeMedia
	pipe  *Pipeline
}

func newTestEnv(cfg PipelineConfig) *testEnv {
	env := &testEnv{
		repo:  newFakeRepo(),
		store: newFakeStore(),
		cap:   newFakeCap(),
		lease: newFakeLease(),
		media: newFakeMedia(),
	}
	env.pipe = NewPipeline(env.repo, env.store, env.cap, env.lease, env.media, cfg)
	return env
}

func (env *testEnv) seedProject(id, script string) *models.Project {
	p := &models.Project{
		ID:            id,
		Title:         "test project",
		ScriptContent: script,
		Status:        models.ProjectStatusDraft,
	}
	env.repo.addProject(p)
	return p
}

func (env *testEnv) seedScenes(projectID string, specs []sceneData) []models.Scene {
	var scenes []models.Scene
	for _, sd := range specs {
		chars, _ := json.Marshal(sd.Characters)
		sc := models.Scene{
			ID:          models.NewID(),
			ProjectId:   projectID,
			Order:       sd.Order,
			Title:       sd.Title,
			Description: sd.Description,
			Setting:     sd.Setting,
			Characters:  string(chars),
			Dialogue:    sd.Dialogue,
			Duration:    sd.Duration,
		}
		env.repo.addScene(sc)
		scenes = append(scenes, sc)
	}
	return scenes
}
