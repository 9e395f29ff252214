package api

import (
	"net/http"

	"ScriptToMovie-server/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func CreateProject(c *gin.Context) {
	var req struct {
		Title  string `json:"title"`
		Script string `json:"script"`
		Style  string `json:"style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script is required"})
		return
	}

	project := models.Project{
		ID:            uuid.NewString(),
		Title:         req.Title,
		ScriptContent: req.Script,
		Style:         req.Style,
		Status:        models.ProjectStatusDraft,
		Progress:      0,
	}
	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create project: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project_id": project.ID, "status": project.Status})
}

func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scenes: " + err.Error()})
		return
	}

	resp := gin.H{"project": project, "scenes": scenes}
	if fa, err := models.GetFinalArtifact(models.GormDB, projectID, models.FinalKindMovie); err == nil {
		resp["final_artifact"] = fa
	}
	c.JSON(http.StatusOK, resp)
}

func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	switch project.Status {
	case models.ProjectStatusParsing, models.ProjectStatusGeneratingStoryboard,
		models.ProjectStatusGeneratingVideos, models.ProjectStatusAssembling:
		c.JSON(http.StatusConflict, gin.H{"error": "project is generating, cancel the pipeline first"})
		return
	}

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete project: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": projectID})
}

func GetScenes(c *gin.Context) {
	projectID := c.Param("project_id")
	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scenes: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}
