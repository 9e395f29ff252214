package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	FinalStatusPending    = "pending"
	FinalStatusAssembling = "assembling"
	FinalStatusCompleted  = "completed"
	FinalStatusFailed     = "failed"

	FinalKindMovie = "final_movie"
)

// FinalArtifact is the one-per-project output of the assembly engine.
type FinalArtifact struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId     string    `json:"projectId"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	ArtifactRef   string    `json:"artifactRef"`
	ArtifactKey   string    `json:"artifactKey"`
	TotalDuration float64   `json:"totalDuration"` // seconds
	SegmentCount  int       `json:"segmentCount"`
	SkippedCount  int       `json:"skippedCount"`
	ErrorMessage  string    `json:"errorMessage"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (FinalArtifact) TableName() string {
	return "final_artifact"
}

func GetFinalArtifact(db *gorm.DB, projectID, kind string) (*FinalArtifact, error) {
	var fa FinalArtifact
	err := db.Where("project_id = ? AND kind = ?", projectID, kind).First(&fa).Error
	if err != nil {
		return nil, err
	}
	return &fa, nil
}

// UpsertFinalArtifact creates or replaces the artifact row for (project, kind).
func UpsertFinalArtifact(db *gorm.DB, fa *FinalArtifact) error {
	existing, err := GetFinalArtifact(db, fa.ProjectId, fa.Kind)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		fa.ID = NewID()
		fa.CreatedAt = time.Now()
		fa.UpdatedAt = time.Now()
		return db.Create(fa).Error
	}
	fa.ID = existing.ID
	fa.CreatedAt = existing.CreatedAt
	fa.UpdatedAt = time.Now()
	return db.Save(fa).Error
}
