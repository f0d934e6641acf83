package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"recruit-agent-go/internal/types"
)

// StatusFor 错误类别到 HTTP 状态码的映射
func StatusFor(err error) int {
	kind, _ := types.KindOf(err)
	switch kind {
	case types.KindNotFound:
		return consts.StatusNotFound
	case types.KindInvalidState, types.KindValidation, types.KindExtraction:
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 以 {"detail": ...} 返回错误
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := StatusFor(err)
	if status >= consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "%s %s 处理失败: %v", c.Method(), c.Path(), err)
	}
	c.JSON(status, utils.H{"detail": types.DetailOf(err)})
}
