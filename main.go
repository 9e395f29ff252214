package main

import (
	"fmt"

	"ScriptToMovie-server/config"
	"ScriptToMovie-server/models"
	"ScriptToMovie-server/routers"
	"ScriptToMovie-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	pipeline := service.NewPipeline(
		service.NewGormRepo(models.GormDB),
		service.NewMinioStore(service.MinioClient, config.AppConfig.MinIO.Bucket),
		service.NewWorkerCapability(config.AppConfig.Worker.Addr),
		service.NewRedisLease(config.AppConfig.Redis.Addr, config.AppConfig.Redis.Password),
		service.NewFFmpegTool(),
		service.PipelineConfigFromApp(),
	)
	processor := service.NewProcessor(pipeline)
	processor.StartProcessor(2)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
