package api

import (
	"net/http"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/gin-gonic/gin"
)

// StartPipeline enqueues a full pipeline run. Exclusivity is enforced by the
// run lease inside the pipeline itself; this handler only rejects the obvious
// cases early.
func StartPipeline(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}
	if project.Status == models.ProjectStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "project already completed"})
		return
	}

	if err := service.EnqueuePipelineRun(projectID, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue pipeline run: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "message": "pipeline run enqueued"})
}

// ResumePipeline re-enters the pipeline at the project's persisted state.
// Completed items are skipped; failed items with attempts left are retried.
func ResumePipeline(c *gin.Context) {
	projectID := c.Param("project_id")

	if _, err := models.GetProjectByID(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found: " + err.Error()})
		return
	}

	if err := service.EnqueuePipelineRun(projectID, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue pipeline resume: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "message": "pipeline resume enqueued"})
}

// CancelPipeline asks a running pipeline to stop submitting new work.
// In-flight generations finish or time out; nothing is killed mid-write.
func CancelPipeline(c *gin.Context) {
	projectID := c.Param("project_id")

	if service.CancelRun(projectID) {
		c.JSON(http.StatusOK, gin.H{"project_id": projectID, "message": "cancellation requested"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no active run found for project"})
}
