package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ScriptToMovie-server/models"
)

const sceneBreakdownPrompt = `You are a professional screenplay analyst. Break the following screenplay down into individual scenes.

For each scene provide:
- order: sequential index starting from 0
- title: a short descriptive title
- description: what happens in the scene, visually concrete (2-4 sentences)
- setting: the location where the scene takes place
- characters: the character names appearing in the scene
- dialogue: the spoken lines of the scene ("NAME: line" per line), empty string if none
- duration: estimated seconds (typically 5-15)

A new scene starts on a change of location, time, or a clear scene break.

Screenplay:

`

const motionPromptTemplate = `You are a cinematography prompt writer for an image-to-video model. Given a scene description, write one motion prompt describing camera movement and subject motion for a short clip. Keep it under 60 words, present tense, no dialogue.

Provide:
- prompt: the motion prompt

Scene description:

%s`

type sceneData struct {
	Order       int      `json:"order"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Setting     string   `json:"setting"`
	Characters  []string `json:"characters"`
	Dialogue    string   `json:"dialogue"`
	Duration    int      `json:"duration"`
}

type sceneBreakdownResult struct {
	Scenes []sceneData `json:"scenes"`
}

func (r *sceneBreakdownResult) Validate() error {
	if len(r.Scenes) == 0 {
		return fmt.Errorf("scenes array is empty")
	}
	seen := make(map[int]bool, len(r.Scenes))
	for i, sc := range r.Scenes {
		if sc.Description == "" {
			return fmt.Errorf("scene %d: description is required", i)
		}
		if sc.Order < 0 || sc.Order >= len(r.Scenes) {
			return fmt.Errorf("scene %d: order %d out of range 0..%d", i, sc.Order, len(r.Scenes)-1)
		}
		if seen[sc.Order] {
			return fmt.Errorf("duplicate scene order %d", sc.Order)
		}
		seen[sc.Order] = true
	}
	return nil
}

type motionPromptResult struct {
	Prompt string `json:"prompt"`
}

func (r *motionPromptResult) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

const visualProfilePrompt = `You are a visual continuity designer for a film production. Given the scene list of a screenplay, write one reusable appearance description for every recurring character and every setting, so that independently generated images of the same character or place stay consistent.

Provide:
- characters: list of {name, appearance} with physical appearance, clothing and distinguishing features (1-2 sentences each)
- settings: list of {name, appearance} with architecture, lighting and atmosphere (1-2 sentences each)

Scenes:

`

type visualEntry struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance"`
}

type visualProfileResult struct {
	Characters []visualEntry `json:"characters"`
	Settings   []visualEntry `json:"settings"`
}

func (r *visualProfileResult) Validate() error {
	if len(r.Characters)+len(r.Settings) == 0 {
		return fmt.Errorf("characters and settings are both empty")
	}
	for i, c := range r.Characters {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Appearance) == "" {
			return fmt.Errorf("character %d: name and appearance are required", i)
		}
	}
	for i, s := range r.Settings {
		if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Appearance) == "" {
			return fmt.Errorf("setting %d: name and appearance are required", i)
		}
	}
	return nil
}

// buildVisualProfile is the second half of the parsing phase: one
// project-level structured call that fixes how every character and setting
// looks, before any image is generated. The profile is persisted on the
// project, so a re-run with one present is a no-op.
func (p *Pipeline) buildVisualProfile(ctx context.Context, project *models.Project) error {
	if strings.TrimSpace(project.VisualProfile) != "" {
		return nil
	}

	scenes, err := p.repo.ListScenes(ctx, project.ID)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(visualProfilePrompt)
	for _, sc := range scenes {
		fmt.Fprintf(&b, "Scene %d (%s) at %q, characters %s: %s\n",
			sc.Order, sc.Title, sc.Setting, sc.Characters, sc.Description)
	}

	var result visualProfileResult
	if err := InvokeStructured(ctx, p.cap, b.String(), &result, p.cfg.MaxAttempts); err != nil {
		return fmt.Errorf("visual profile: %w", err)
	}

	profile, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := p.repo.SetProjectVisualProfile(ctx, project.ID, string(profile)); err != nil {
		return err
	}
	project.VisualProfile = string(profile)
	return nil
}

// continuityFor renders the profile entries relevant to one scene as prompt
// lines. A missing or unparseable profile degrades to no enrichment.
func continuityFor(profileJSON string, sc *models.Scene) string {
	if strings.TrimSpace(profileJSON) == "" {
		return ""
	}
	var profile visualProfileResult
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return ""
	}

	var names []string
	_ = json.Unmarshal([]byte(sc.Characters), &names)

	var lines []string
	for _, c := range profile.Characters {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(c.Name)) {
				lines = append(lines, fmt.Sprintf("%s: %s", c.Name, c.Appearance))
				break
			}
		}
	}
	for _, s := range profile.Settings {
		if strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(sc.Setting)) {
			lines = append(lines, fmt.Sprintf("%s: %s", s.Name, s.Appearance))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return " Visual continuity: " + strings.Join(lines, " | ")
}

// breakdownScenes is the parsing phase: one project-level structured call
// that creates the Scene rows. Scenes are immutable once created, so a
// re-run with existing rows is a no-op.
func (p *Pipeline) breakdownScenes(ctx context.Context, project *models.Project) error {
	existing, err := p.repo.ListScenes(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	var result sceneBreakdownResult
	if err := InvokeStructured(ctx, p.cap, sceneBreakdownPrompt+project.ScriptContent, &result, p.cfg.MaxAttempts); err != nil {
		return fmt.Errorf("scene breakdown: %w", err)
	}

	now := time.Now()
	scenes := make([]models.Scene, 0, len(result.Scenes))
	for _, sd := range result.Scenes {
		chars, _ := json.Marshal(sd.Characters)
		duration := sd.Duration
		if duration <= 0 {
			duration = 5
		}
		scenes = append(scenes, models.Scene{
			ID:          models.NewID(),
			ProjectId:   project.ID,
			Order:       sd.Order,
			Title:       sd.Title,
			Description: sd.Description,
			Setting:     sd.Setting,
			Characters:  string(chars),
			Dialogue:    sd.Dialogue,
			Duration:    duration,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return p.repo.CreateScenes(ctx, project.ID, scenes)
}

// storyboardStage generates one reference image per scene from its visual
// description, enriched with the project's visual profile so recurring
// characters and settings look the same across scenes.
func (p *Pipeline) storyboardStage() StageDef {
	return StageDef{
		Kind:        models.StageStoryboardImage,
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff,
		CallTimeout: p.cfg.CallTimeout,
		Run: func(ctx context.Context, sc *models.Scene, task *models.GenerationTask) (string, string, error) {
			prompt := sc.Description
			if sc.Setting != "" {
				prompt = fmt.Sprintf("%s. Setting: %s", sc.Description, sc.Setting)
			}
			if project, err := p.repo.GetProject(ctx, sc.ProjectId); err == nil {
				prompt += continuityFor(project.VisualProfile, sc)
			}
			data, err := p.cap.GenerateImage(ctx, prompt, "")
			if err != nil {
				return "", "", err
			}
			key := fmt.Sprintf("projects/%s/%s/scene_%d.png", sc.ProjectId, models.StageStoryboardImage, sc.Order)
			ref, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return "", "", fmt.Errorf("upload storyboard image: %w", err)
			}
			return ref, key, nil
		},
	}
}

// motionPromptStage turns each scene description into a motion prompt for the
// video model, through the structured call layer. The prompt text is stored
// as the task artifact so the clip stage can read it back after a restart.
func (p *Pipeline) motionPromptStage() StageDef {
	return StageDef{
		Kind:        models.StageMotionPrompt,
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff,
		CallTimeout: p.cfg.CallTimeout,
		Run: func(ctx context.Context, sc *models.Scene, task *models.GenerationTask) (string, string, error) {
			var result motionPromptResult
			if err := InvokeStructured(ctx, p.cap, fmt.Sprintf(motionPromptTemplate, sc.Description), &result, p.cfg.MaxAttempts); err != nil {
				return "", "", err
			}
			key := fmt.Sprintf("projects/%s/%s/scene_%d.txt", sc.ProjectId, models.StageMotionPrompt, sc.Order)
			ref, err := p.store.Put(ctx, key, strings.NewReader(result.Prompt), int64(len(result.Prompt)))
			if err != nil {
				return "", "", fmt.Errorf("upload motion prompt: %w", err)
			}
			return ref, key, nil
		},
	}
}

// videoClipStage renders each scene's clip, using the storyboard image as the
// visual reference and the motion prompt as the text prompt.
func (p *Pipeline) videoClipStage() StageDef {
	return StageDef{
		Kind:        models.StageVideoClip,
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff,
		CallTimeout: p.cfg.CallTimeout,
		Run: func(ctx context.Context, sc *models.Scene, task *models.GenerationTask) (string, string, error) {
			prompt := sc.Description
			if mpTask, err := p.repo.GetTask(ctx, sc.ID, models.StageMotionPrompt); err == nil && mpTask.Status == models.TaskStatusCompleted && mpTask.ArtifactKey != "" {
				if data, err := p.store.Get(ctx, mpTask.ArtifactKey); err == nil && len(data) > 0 {
					prompt = string(data)
				}
			}

			refImage := ""
			if sbTask, err := p.repo.GetTask(ctx, sc.ID, models.StageStoryboardImage); err == nil && sbTask.Status == models.TaskStatusCompleted {
				refImage = sbTask.ArtifactRef
			}

			data, err := p.cap.GenerateVideo(ctx, prompt, refImage, sc.Duration)
			if err != nil {
				return "", "", err
			}
			key := fmt.Sprintf("projects/%s/%s/scene_%d.mp4", sc.ProjectId, models.StageVideoClip, sc.Order)
			ref, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return "", "", fmt.Errorf("upload video clip: %w", err)
			}
			return ref, key, nil
		},
	}
}

// narrationStage synthesizes the scene's dialogue. Scenes without dialogue
// complete vacuously.
func (p *Pipeline) narrationStage() StageDef {
	return StageDef{
		Kind:        models.StageNarrationAudio,
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff,
		CallTimeout: p.cfg.CallTimeout,
		Vacuous: func(sc *models.Scene) bool {
			return strings.TrimSpace(sc.Dialogue) == ""
		},
		Run: func(ctx context.Context, sc *models.Scene, task *models.GenerationTask) (string, string, error) {
			data, err := p.cap.SynthesizeSpeech(ctx, cleanDialogue(sc.Dialogue))
			if err != nil {
				return "", "", err
			}
			key := fmt.Sprintf("projects/%s/%s/scene_%d.mp3", sc.ProjectId, models.StageNarrationAudio, sc.Order)
			ref, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return "", "", fmt.Errorf("upload narration: %w", err)
			}
			return ref, key, nil
		},
	}
}

// cleanDialogue strips "CHARACTER:" speaker prefixes so the synthesized voice
// reads only the spoken text.
func cleanDialogue(dialogue string) string {
	var lines []string
	for _, line := range strings.Split(dialogue, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if speaker, rest, ok := strings.Cut(line, ":"); ok {
			speaker = strings.TrimSpace(speaker)
			if speaker != "" && speaker == strings.ToUpper(speaker) {
				lines = append(lines, strings.TrimSpace(rest))
				continue
			}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return dialogue
	}
	return strings.Join(lines, " ")
}
