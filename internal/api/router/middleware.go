package router

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const defaultAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// CORS 只对白名单来源回写 Allow-Origin，并允许携带凭证；预检请求直接返回 204
func CORS(origins []string) app.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if _, ok := allowed[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		if string(c.Method()) != consts.MethodOptions {
			c.Next(ctx)
			return
		}

		methods := string(c.GetHeader("Access-Control-Request-Method"))
		if methods == "" {
			methods = defaultAllowMethods
		}
		headers := string(c.GetHeader("Access-Control-Request-Headers"))
		if headers == "" {
			headers = "*"
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Max-Age", "600")
		c.AbortWithStatus(consts.StatusNoContent)
	}
}

// AccessLog 记录请求方法、路径、状态码与耗时
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s -> %d (%s)", c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start))
	}
}
