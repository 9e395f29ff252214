package api

import (
	"net/http"
	"time"

	"ScriptToMovie-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type sceneStatus struct {
	SceneID string           `json:"sceneId"`
	Order   int              `json:"order"`
	Title   string           `json:"title"`
	Stages  map[string]gin.H `json:"stages"`
}

func buildStatusProjection(projectID string) (gin.H, error) {
	project, err := models.GetProjectByID(projectID)
	if err != nil {
		return nil, err
	}
	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := models.GetTasksByProjectID(models.GormDB, projectID)
	if err != nil {
		return nil, err
	}

	bySceneStage := make(map[string]map[string]gin.H)
	for _, t := range tasks {
		if bySceneStage[t.SceneId] == nil {
			bySceneStage[t.SceneId] = make(map[string]gin.H)
		}
		bySceneStage[t.SceneId][t.Stage] = gin.H{
			"status":      t.Status,
			"attempt":     t.Attempt,
			"error":       t.ErrorMessage,
			"artifactRef": t.ArtifactRef,
		}
	}

	sceneStatuses := make([]sceneStatus, 0, len(scenes))
	for _, sc := range scenes {
		stages := bySceneStage[sc.ID]
		if stages == nil {
			stages = make(map[string]gin.H)
		}
		sceneStatuses = append(sceneStatuses, sceneStatus{
			SceneID: sc.ID,
			Order:   sc.Order,
			Title:   sc.Title,
			Stages:  stages,
		})
	}

	resp := gin.H{
		"projectId":    project.ID,
		"status":       project.Status,
		"progress":     project.Progress,
		"errorMessage": project.ErrorMessage,
		"warningCount": project.WarningCount,
		"scenes":       sceneStatuses,
	}
	if fa, err := models.GetFinalArtifact(models.GormDB, projectID, models.FinalKindMovie); err == nil {
		resp["finalArtifact"] = fa
	}
	return resp, nil
}

// GetProjectStatus is the read-only projection the UI polls. Fields reflect
// the last committed transaction; nothing here is derived from in-memory
// pipeline state.
func GetProjectStatus(c *gin.Context) {
	projection, err := buildStatusProjection(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, projection)
}

// ProjectProgressWebSocket pushes the status projection whenever status or
// progress changes, polling the database once a second. The pipeline itself
// never writes to this connection; the DB is the only source.
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	projection, err := buildStatusProjection(projectID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "project not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(projection)

	prevStatus, _ := projection["status"].(string)
	prevProgress, _ := projection["progress"].(int)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		cur, err := buildStatusProjection(projectID)
		if err != nil {
			continue
		}
		status, _ := cur["status"].(string)
		progress, _ := cur["progress"].(int)

		if status != prevStatus || progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = status
			prevProgress = progress
		}

		if status == models.ProjectStatusCompleted || status == models.ProjectStatusFailed || status == models.ProjectStatusCancelled {
			_ = conn.WriteJSON(cur)
			break
		}
	}
}
