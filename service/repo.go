package service

import (
	"context"
	"errors"
	"time"

	"ScriptToMovie-server/models"

	"gorm.io/gorm"
)

// ErrProjectNotFound is returned by Repo lookups for unknown projects.
var ErrProjectNotFound = errors.New("project not found")

// Repo is the persistence surface the pipeline depends on. All authoritative
// progress lives behind it; no pipeline component keeps state only in memory.
type Repo interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	// SetProjectState writes status and progress together so the two can
	// never disagree. Progress is monotonic while the project is healthy.
	SetProjectState(ctx context.Context, id, status string, progress int) error
	SetProjectFailure(ctx context.Context, id, status, errMsg string) error
	AddProjectWarnings(ctx context.Context, id string, n int) error
	SetProjectVisualProfile(ctx context.Context, id, profile string) error

	ListScenes(ctx context.Context, projectID string) ([]models.Scene, error)
	CreateScenes(ctx context.Context, projectID string, scenes []models.Scene) error

	GetOrCreateTask(ctx context.Context, projectID, sceneID, stage string) (*models.GenerationTask, error)
	SaveTask(ctx context.Context, task *models.GenerationTask) error
	GetTask(ctx context.Context, sceneID, stage string) (*models.GenerationTask, error)

	UpsertFinalArtifact(ctx context.Context, fa *models.FinalArtifact) error
	GetFinalArtifact(ctx context.Context, projectID, kind string) (*models.FinalArtifact, error)
}

type gormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) Repo {
	return &gormRepo{db: db}
}

func (r *gormRepo) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepo) SetProjectState(ctx context.Context, id, status string, progress int) error {
	return r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"progress":   gorm.Expr("GREATEST(progress, ?)", progress),
		"updated_at": time.Now(),
	}).Error
}

func (r *gormRepo) SetProjectFailure(ctx context.Context, id, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"updated_at":    time.Now(),
	}).Error
}

func (r *gormRepo) AddProjectWarnings(ctx context.Context, id string, n int) error {
	if n == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"warning_count": gorm.Expr("warning_count + ?", n),
		"updated_at":    time.Now(),
	}).Error
}

func (r *gormRepo) SetProjectVisualProfile(ctx context.Context, id, profile string) error {
	return r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"visual_profile": profile,
		"updated_at":     time.Now(),
	}).Error
}

func (r *gormRepo) ListScenes(ctx context.Context, projectID string) ([]models.Scene, error) {
	return models.GetScenesByProjectIDGorm(r.db.WithContext(ctx), projectID)
}

func (r *gormRepo) CreateScenes(ctx context.Context, projectID string, scenes []models.Scene) error {
	if err := models.BatchCreateScenes(r.db.WithContext(ctx), scenes); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(map[string]interface{}{
		"scene_count": len(scenes),
		"updated_at":  time.Now(),
	}).Error
}

func (r *gormRepo) GetOrCreateTask(ctx context.Context, projectID, sceneID, stage string) (*models.GenerationTask, error) {
	return models.GetOrCreateTask(r.db.WithContext(ctx), projectID, sceneID, stage)
}

func (r *gormRepo) SaveTask(ctx context.Context, task *models.GenerationTask) error {
	return task.Save(r.db.WithContext(ctx))
}

func (r *gormRepo) GetTask(ctx context.Context, sceneID, stage string) (*models.GenerationTask, error) {
	var task models.GenerationTask
	err := r.db.WithContext(ctx).Where("scene_id = ? AND stage = ?", sceneID, stage).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *gormRepo) UpsertFinalArtifact(ctx context.Context, fa *models.FinalArtifact) error {
	return models.UpsertFinalArtifact(r.db.WithContext(ctx), fa)
}

func (r *gormRepo) GetFinalArtifact(ctx context.Context, projectID, kind string) (*models.FinalArtifact, error) {
	return models.GetFinalArtifact(r.db.WithContext(ctx), projectID, kind)
}
