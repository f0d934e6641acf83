package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"recruit-agent-go/internal/config"
)

// Storage 存储管理器，聚合外部存储依赖。
// 每个后端都是可选的：未配置或初始化失败时对应字段为 nil，服务以内存模式继续运行。
type Storage struct {
	// 原始上传文件
	MinIO *MinIO

	// 运行事件
	RabbitMQ *RabbitMQ

	// 向量索引（retrieval.backend 为 qdrant 时）
	Qdrant *Qdrant

	// 运行审计与 outbox
	MySQL *MySQL

	// 运行快照与向量缓存
	Redis *Redis

	logger *log.Logger
}

// NewStorage 按配置初始化各存储组件，失败的组件只记录警告
func NewStorage(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Storage{logger: logger}
	var err error
	var initErrors []string

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(&cfg.MinIO, logger)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.Retrieval.Backend == config.VectorBackendQdrant && cfg.Qdrant.Endpoint != "" {
		s.Qdrant, err = NewQdrant(&cfg.Qdrant, WithQdrantLogger(logger))
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Qdrant: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		s.MySQL, err = NewMySQL(&cfg.MySQL, logger)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if len(initErrors) > 0 {
		logger.Printf("警告: 以下存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	logger.Printf("存储组件: %s", s.Summary())
	return s, nil
}

// Summary 已启用的组件
func (s *Storage) Summary() string {
	var enabled []string
	if s.MinIO != nil {
		enabled = append(enabled, "minio")
	}
	if s.RabbitMQ != nil {
		enabled = append(enabled, "rabbitmq")
	}
	if s.Qdrant != nil {
		enabled = append(enabled, "qdrant")
	}
	if s.MySQL != nil {
		enabled = append(enabled, "mysql")
	}
	if s.Redis != nil {
		enabled = append(enabled, "redis")
	}
	if len(enabled) == 0 {
		return "none"
	}
	return strings.Join(enabled, ",")
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Printf("关闭MySQL连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Printf("关闭Redis连接失败: %v", err)
		}
	}
}
