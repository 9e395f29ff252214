package models

import (
	"time"

	"gorm.io/gorm"
)

// Scene is the unit item the pipeline operates over. Rows are created once by
// the parsing phase and never mutated afterwards; `order` is dense 0..N-1 and
// unique within a project.
type Scene struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId   string    `json:"projectId"`
	Order       int       `json:"order"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Setting     string    `json:"setting"`
	Characters  string    `json:"characters"` // JSON array of names
	Dialogue    string    `json:"dialogue"`
	Duration    int       `json:"duration"` // advisory seconds
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetScenesByProjectIDGorm(db *gorm.DB, projectID string) ([]Scene, error) {
	var scenes []Scene
	err := db.Where("project_id = ?", projectID).Order("`order` ASC").Find(&scenes).Error
	return scenes, err
}
