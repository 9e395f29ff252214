package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GenerationTask status values.
const (
	TaskStatusPending    = "pending"
	TaskStatusGenerating = "generating"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Stage kinds. One GenerationTask exists per (scene, stage); that row is the
// single source of truth for "has this already been done", which is what
// makes resumption idempotent and keeps retries from double-billing the
// generation APIs.
const (
	StageStoryboardImage = "storyboard_image"
	StageMotionPrompt    = "motion_prompt"
	StageVideoClip       = "video_clip"
	StageNarrationAudio  = "narration_audio"
)

type GenerationTask struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId    string     `json:"projectId"`
	SceneId      string     `json:"sceneId"`
	Stage        string     `json:"stage"`
	Status       string     `json:"status"`
	Attempt      int        `json:"attempt"`
	ErrorMessage string     `json:"errorMessage"`
	ArtifactRef  string     `json:"artifactRef"` // presigned URL, set on completion
	ArtifactKey  string     `json:"artifactKey"` // object-store key, set on completion
	Parameters   TaskParams `gorm:"type:json" json:"parameters"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   time.Time  `json:"finishedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TaskParams carries stage-specific knobs persisted alongside the task.
type TaskParams struct {
	ImageWidth  int    `json:"image_width,omitempty"`
	ImageHeight int    `json:"image_height,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Lang        string `json:"lang,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	FPS         int    `json:"fps,omitempty"`
}

func (p TaskParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *TaskParams) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

func (GenerationTask) TableName() string {
	return "generation_task"
}

// GetOrCreateTask loads the task for (scene, stage), creating a pending row
// on first sight. Stage Runners re-derive their work list through this, never
// from in-memory state.
func GetOrCreateTask(db *gorm.DB, projectID, sceneID, stage string) (*GenerationTask, error) {
	var task GenerationTask
	err := db.Where("scene_id = ? AND stage = ?", sceneID, stage).First(&task).Error
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	task = GenerationTask{
		ID:        NewID(),
		ProjectId: projectID,
		SceneId:   sceneID,
		Stage:     stage,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func GetTasksByProjectStage(db *gorm.DB, projectID, stage string) ([]GenerationTask, error) {
	var tasks []GenerationTask
	err := db.Where("project_id = ? AND stage = ?", projectID, stage).Find(&tasks).Error
	return tasks, err
}

func GetTasksByProjectID(db *gorm.DB, projectID string) ([]GenerationTask, error) {
	var tasks []GenerationTask
	err := db.Where("project_id = ?", projectID).Find(&tasks).Error
	return tasks, err
}

func (t *GenerationTask) Save(db *gorm.DB) error {
	t.UpdatedAt = time.Now()
	return db.Save(t).Error
}
