package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"recruit-agent-go/internal/agent"
	"recruit-agent-go/internal/api/handler"
	"recruit-agent-go/internal/api/router"
	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/embedding"
	"recruit-agent-go/internal/ingestion"
	appCoreLogger "recruit-agent-go/internal/logger"
	"recruit-agent-go/internal/outbox"
	"recruit-agent-go/internal/pipeline"
	"recruit-agent-go/internal/registry"
	"recruit-agent-go/internal/retrieval"
	"recruit-agent-go/internal/storage"
	"recruit-agent-go/internal/tracing"
	llm "recruit-agent-go/pkg/agent"
	"recruit-agent-go/pkg/ratelimit"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "recruit-agent-go" //nolint:gochecknoglobals
)

const maxUploadBytes = 32 << 20

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg)
	glog.Infof("配置加载成功, version=%s", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := initTracer(ctx, cfg)

	storageManager, err := storage.NewStorage(ctx, cfg, componentLogger("Storage"))
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Infof("存储服务初始化完成: %s", storageManager.Summary())

	embedder, err := buildEmbedder(cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化Embedder失败: %v", err)
	}

	chunker, err := retrieval.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	if err != nil {
		glog.Fatalf("初始化分块器失败: %v", err)
	}
	engine, err := retrieval.NewEngine(chunker, embedder, buildVectorIndex(cfg, storageManager),
		retrieval.WithOversample(cfg.Retrieval.Oversample),
		retrieval.WithEngineLogger(componentLogger("Retrieval")),
	)
	if err != nil {
		glog.Fatalf("初始化检索引擎失败: %v", err)
	}

	ingestor, err := buildIngestor(ctx, cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化文档导入失败: %v", err)
	}

	chatModel := buildChatModel(cfg)
	stages, err := buildStages(chatModel)
	if err != nil {
		glog.Fatalf("初始化流水线阶段失败: %v", err)
	}

	observers := []pipeline.RunObserver{pipeline.LogObserver{}}
	var orchOpts []pipeline.Option
	if storageManager.Redis != nil {
		observers = append(observers, pipeline.SnapshotObserver{Saver: storageManager.Redis})
		orchOpts = append(orchOpts, pipeline.WithSnapshotPurger(storageManager.Redis))
	}
	if storageManager.MySQL != nil {
		observers = append(observers, pipeline.AuditObserver{
			Recorder: storageManager.MySQL,
			Target: storage.OutboxTarget{
				Exchange:      cfg.RabbitMQ.PipelineEventsExchange,
				RoutingPrefix: cfg.RabbitMQ.RunEventRoutingPrefix,
			},
		})
	}
	store := registry.NewStore(registry.WithCommitHook(pipeline.NotifyObservers(observers...)))

	orchOpts = append(orchOpts,
		pipeline.WithDefaultTopN(cfg.Pipeline.DefaultTopN),
		pipeline.WithStageTimeout(config.GetDuration(cfg.Pipeline.StageTimeout, pipeline.DefaultStageTimeout)),
		pipeline.WithLogger(componentLogger("Pipeline")),
	)
	orch, err := pipeline.NewOrchestrator(store, engine, ingestor, stages, orchOpts...)
	if err != nil {
		glog.Fatalf("初始化编排器失败: %v", err)
	}
	glog.Info("流水线编排器初始化成功")

	var messageRelay *outbox.MessageRelay
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ,
			outbox.WithPollingInterval(config.GetDuration(cfg.MySQL.OutboxPollInterval, 5*time.Second)),
			outbox.WithLogger(componentLogger("MessageRelay")),
		)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(maxUploadBytes),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	router.Setup(h, cfg.AllowedOrigins(), handler.NewDocumentHandler(orch), handler.NewPipelineHandler(orch))
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := orch.Close(shutdownCtx); err != nil {
		glog.Warnf("等待后台任务退出超时: %v", err)
	}
	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		glog.Warnf("关闭 TracerProvider 失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg *config.Config) {
	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}

// componentLogger 写入全局 zerolog 的标准库 logger
func componentLogger(name string) *log.Logger {
	return log.New(appCoreLogger.Logger, "["+name+"] ", 0)
}

func initTracer(ctx context.Context, cfg *config.Config) func(context.Context) error {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }
	}
	name := cfg.Tracing.ServiceName
	if name == "" {
		name = serviceName
	}
	shutdown, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: name,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		glog.Warnf("初始化 tracing 失败，span 不会导出: %v", err)
		return func(context.Context) error { return nil }
	}
	glog.Infof("Tracing 已启用, endpoint=%s", cfg.Tracing.Endpoint)
	return shutdown
}

func buildEmbedder(cfg *config.Config, s *storage.Storage) (einoembedding.Embedder, error) {
	var base einoembedding.Embedder
	if cfg.Embedding.BaseURL != "" {
		e, err := embedding.NewOpenAIEmbedder(cfg.Embedding, embedding.WithLogger(componentLogger("Embedding")))
		if err != nil {
			return nil, err
		}
		base = e
		glog.Infof("使用 OpenAI 兼容 Embedder: %s (%s)", cfg.Embedding.Model, cfg.Embedding.BaseURL)
	} else {
		base = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
		glog.Warnf("未配置 embedding.base_url，使用离线特征哈希 Embedder (dim=%d)", cfg.Embedding.Dimensions)
	}

	if s.Redis == nil {
		return base, nil
	}
	cached, err := embedding.NewCachedEmbedder(base, s.Redis,
		embedding.WithCacheTTL(config.GetDuration(cfg.Embedding.CacheTTL, 24*time.Hour)),
		embedding.WithCacheLogger(componentLogger("EmbeddingCache")),
	)
	if err != nil {
		return nil, err
	}
	glog.Info("Embedder 已启用 Redis 缓存")
	return cached, nil
}

func buildVectorIndex(cfg *config.Config, s *storage.Storage) retrieval.VectorIndex {
	if cfg.Retrieval.Backend == config.VectorBackendQdrant {
		if s.Qdrant != nil {
			glog.Infof("向量索引: Qdrant (%s/%s)", cfg.Qdrant.Endpoint, cfg.Qdrant.Collection)
			return s.Qdrant
		}
		glog.Warn("Qdrant 不可用，回退到内存向量索引")
	}
	return retrieval.NewMemoryIndex()
}

func buildIngestor(ctx context.Context, cfg *config.Config, s *storage.Storage) (*ingestion.Ingestor, error) {
	pdfExtractor, err := ingestion.NewPDFExtractor(ctx, ingestion.WithPDFLogger(componentLogger("PDF")))
	if err != nil {
		return nil, err
	}

	var blobs ingestion.BlobStore
	if s.MinIO != nil {
		blobs = s.MinIO
		glog.Infof("上传文件存储: MinIO bucket=%s", cfg.MinIO.BucketName)
	} else {
		local, err := ingestion.NewLocalBlobStore(cfg.Storage.UploadDir)
		if err != nil {
			return nil, err
		}
		blobs = local
		glog.Infof("上传文件存储: 本地目录 %s", local.Dir())
	}

	return ingestion.NewIngestor(ingestion.NewExtractor(pdfExtractor),
		ingestion.WithBlobStore(blobs),
		ingestion.WithLogger(componentLogger("Ingestion")),
	)
}

func buildChatModel(cfg *config.Config) model.ToolCallingChatModel {
	groq, err := llm.NewGroqChatModel(cfg.LLM.APIKey,
		llm.WithGroqModel(cfg.LLM.Model),
		llm.WithGroqAPIURL(cfg.LLM.APIURL),
		llm.WithTemperature(float32(cfg.LLM.Temperature)),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithRequestTimeout(config.GetDuration(cfg.LLM.Timeout, 90*time.Second)),
		llm.WithGroqLogger(componentLogger("Groq")),
	)
	if err != nil {
		// 没有 API Key 时服务仍可上传与检索，模型阶段会以明确的错误失败
		glog.Warnf("Groq 聊天模型初始化失败，模型阶段将不可用: %v", err)
		return llm.NewMockChatClient("", errors.New("GROQ_API_KEY is not configured"))
	}
	glog.Infof("Groq 聊天模型初始化成功: %s", groq.ModelName())

	limits := ratelimit.ResolveLimits(cfg.LLM.Model, cfg.ModelQPMLimits, cfg.LLM.QPM,
		cfg.LLM.MaxRetries, time.Duration(cfg.LLM.RetryWaitSeconds)*time.Second)
	glog.Infof("模型限流: qpm=%d, max_retries=%d", limits.QPM, limits.MaxRetries)
	return ratelimit.Wrap(groq, limits)
}

func buildStages(chatModel model.ToolCallingChatModel) (pipeline.Stages, error) {
	opts := []agent.Option{agent.WithLogger(componentLogger("Agent"))}
	researcher, err := agent.NewResearcher(chatModel, opts...)
	if err != nil {
		return pipeline.Stages{}, err
	}
	evaluator, err := agent.NewEvaluator(chatModel, opts...)
	if err != nil {
		return pipeline.Stages{}, err
	}
	writer, err := agent.NewWriter(chatModel, opts...)
	if err != nil {
		return pipeline.Stages{}, err
	}
	return pipeline.Stages{Researcher: researcher, Evaluator: evaluator, Writer: writer}, nil
}
