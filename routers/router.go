package routers

import (
	"ScriptToMovie-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", "./static")
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.GET("/projects/:project_id/status", api.GetProjectStatus)
		v1.POST("/projects/:project_id/pipeline", api.StartPipeline)
		v1.POST("/projects/:project_id/pipeline/resume", api.ResumePipeline)
		v1.POST("/projects/:project_id/pipeline/cancel", api.CancelPipeline)
	}
	r.GET("/projects/:project_id/ws", api.ProjectProgressWebSocket)
	return r
}
