package models

import "time"

// Project status values. Transitions are one-directional; "failed" and
// "cancelled" are reachable from any non-terminal state, and a resume
// re-enters the status the pipeline held when it stopped.
const (
	ProjectStatusDraft                = "draft"
	ProjectStatusParsing              = "parsing"
	ProjectStatusParsed               = "parsed"
	ProjectStatusGeneratingStoryboard = "generating_storyboard"
	ProjectStatusGeneratingVideos     = "generating_videos"
	ProjectStatusAssembling           = "assembling"
	ProjectStatusCompleted            = "completed"
	ProjectStatusFailed               = "failed"
	ProjectStatusCancelled            = "cancelled"
)

type Project struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title         string    `json:"title"`
	ScriptContent string    `json:"scriptContent"`
	Style         string    `json:"style"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	ErrorMessage  string    `json:"errorMessage"`
	WarningCount  int       `json:"warningCount"`
	SceneCount    int       `json:"sceneCount"`
	VisualProfile string    `json:"visualProfile"` // JSON, written once by the parsing phase
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}
