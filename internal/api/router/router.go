package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"recruit-agent-go/internal/api/handler"
)

// Setup 挂载中间件并注册全部路由。中间件必须先于路由注册
func Setup(h *server.Hertz, origins []string, docs *handler.DocumentHandler, pipe *handler.PipelineHandler) {
	h.Use(AccessLog(), CORS(origins))
	RegisterRoutes(h, docs, pipe)
}

// RegisterRoutes 注册 API 路由，/api 下为前端使用的别名路径
func RegisterRoutes(h *server.Hertz, docs *handler.DocumentHandler, pipe *handler.PipelineHandler) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	h.POST("/documents/job-description", docs.HandleUploadJobDescription)
	h.POST("/documents/resumes", docs.HandleUploadResumes)
	h.GET("/documents", docs.HandleListDocuments)
	h.POST("/session/reset", docs.HandleResetSession)

	h.POST("/pipeline/start", pipe.HandleStart)
	h.GET("/pipeline/:runId", pipe.HandleGetStatus)
	h.POST("/pipeline/:runId/approve", pipe.HandleApprove)
	h.PUT("/pipeline/:runId/emails/:resumeId", pipe.HandleEditEmail)

	api := h.Group("/api")
	api.POST("/upload/jd", docs.HandleUploadJobDescription)
	api.POST("/upload/resumes", docs.HandleUploadResumes)
	api.GET("/documents", docs.HandleListDocuments)
	api.POST("/session/reset", docs.HandleResetSession)

	api.POST("/pipeline/start", pipe.HandleStart)
	api.GET("/pipeline/:runId", pipe.HandleGetStatus)
	api.POST("/pipeline/:runId/approve", pipe.HandleApprove)
	api.PUT("/pipeline/:runId/emails/:resumeId", pipe.HandleEditEmail)
}
