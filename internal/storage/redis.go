package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/constants"
	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

// ErrCacheMiss 键不存在
var ErrCacheMiss = redis.Nil

var redisTracer = otel.Tracer("recruit-agent-go/storage/redis")

// Redis操作前缀采样率配置，redisotel 钩子已经为每条命令生成 span，这里只对业务层操作抽样
var redisKeySamplingRates = map[string]float64{
	constants.AppPrefix + ":" + constants.EntityRun + ":":   0.2,
	constants.AppPrefix + ":" + constants.EntityEmbed + ":": 0.01,
}

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return randFloat() < rate
		}
	}
	return randFloat() < 0.05
}

func randFloat() float64 {
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64()
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries: cfg.MaxRetries,
	}
	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// RunSnapshotTTL 运行快照保留时间
func (r *Redis) RunSnapshotTTL() time.Duration {
	if r.config == nil {
		return constants.DefaultRunSnapshotTTL
	}
	return config.GetDuration(r.config.RunSnapshotTTL, constants.DefaultRunSnapshotTTL)
}

// Get 获取键的值
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Get", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "GET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		)
	}

	val, err := r.Client.Get(ctx, key).Result()
	if span != nil {
		switch {
		case errors.Is(err, redis.Nil):
			// key 不存在不算错误
			span.SetStatus(codes.Ok, "key not found")
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		case err != nil:
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		default:
			span.SetAttributes(
				attribute.Bool("db.redis.key_exists", true),
				attribute.Int("db.redis.value_length", len(val)),
			)
		}
	}
	return val, err
}

// Set 设置键的值
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Set", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "SET"),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
			attribute.Int("db.redis.value_length", len(value)),
		)
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	err := r.Client.Set(ctx, key, value, expiration).Err()
	if span != nil && err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
	}
	return err
}

// RunSnapshotKey 运行快照的键
func RunSnapshotKey(runID string) string {
	return fmt.Sprintf(constants.KeyRunSnapshot, runID)
}

// SaveRunSnapshot 缓存运行快照，并把 runID 记入集合便于统一清理
func (r *Redis) SaveRunSnapshot(ctx context.Context, run *types.PipelineRun) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("序列化运行快照失败: %w", err)
	}

	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, RunSnapshotKey(run.RunID), data, r.RunSnapshotTTL())
	pipe.SAdd(ctx, constants.KeyRunSet, run.RunID)
	pipe.Expire(ctx, constants.KeyRunSet, r.RunSnapshotTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入运行快照 %s 失败: %w", run.RunID, err)
	}
	return nil
}

// GetRunSnapshot 读取运行快照，不存在时返回 ErrCacheMiss
func (r *Redis) GetRunSnapshot(ctx context.Context, runID string) (*types.PipelineRun, error) {
	val, err := r.Get(ctx, RunSnapshotKey(runID))
	if err != nil {
		return nil, err
	}
	var run types.PipelineRun
	if err := json.Unmarshal([]byte(val), &run); err != nil {
		return nil, fmt.Errorf("解析运行快照 %s 失败: %w", runID, err)
	}
	return &run, nil
}

// DeleteRunSnapshots 删除全部运行快照
func (r *Redis) DeleteRunSnapshots(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	ids, err := r.Client.SMembers(ctx, constants.KeyRunSet).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("读取运行集合失败: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, RunSnapshotKey(id))
	}
	keys = append(keys, constants.KeyRunSet)
	if err := r.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("删除运行快照失败: %w", err)
	}
	return nil
}

// EmbeddingCacheKey 文本向量缓存键，文本取 sha256
func EmbeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(constants.KeyEmbeddingCache, model, hex.EncodeToString(sum[:]))
}

// GetEmbedding 读取缓存的向量，未命中时 ok 为 false
func (r *Redis) GetEmbedding(ctx context.Context, model, text string) ([]float64, bool, error) {
	val, err := r.Get(ctx, EmbeddingCacheKey(model, text))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float64
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		return nil, false, fmt.Errorf("解析缓存向量失败: %w", err)
	}
	return vec, true, nil
}

// SetEmbedding 缓存向量
func (r *Redis) SetEmbedding(ctx context.Context, model, text string, vector []float64, ttl time.Duration) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}
	return r.Set(ctx, EmbeddingCacheKey(model, text), string(data), ttl)
}
