package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"recruit-agent-go/internal/storage"
)

// BlobStore 保存上传的原始文件，storage.MinIO 实现了该接口
type BlobStore interface {
	Put(ctx context.Context, docID, filename string, data []byte) (string, error)
	DeleteAll(ctx context.Context) error
}

// LocalBlobStore 未配置 MinIO 时把原始文件写到本地上传目录，布局与对象键一致: {dir}/{docID}/{filename}
type LocalBlobStore struct {
	dir string
	mu  sync.Mutex
}

// NewLocalBlobStore 创建目录（如不存在）
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("上传目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录 %s 失败: %w", dir, err)
	}
	return &LocalBlobStore{dir: dir}, nil
}

// Dir 上传目录
func (l *LocalBlobStore) Dir() string {
	return l.dir
}

// Put 写入文件，返回相对于上传目录的键
func (l *LocalBlobStore) Put(_ context.Context, docID, filename string, data []byte) (string, error) {
	key := storage.ObjectKey(docID, filename)
	full := filepath.Join(l.dir, filepath.FromSlash(key))

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("写入文件 %s 失败: %w", full, err)
	}
	return key, nil
}

// DeleteAll 删除上传目录下的全部内容，保留目录本身
func (l *LocalBlobStore) DeleteAll(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取上传目录失败: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(l.dir, entry.Name())); err != nil {
			return fmt.Errorf("删除 %s 失败: %w", entry.Name(), err)
		}
	}
	return nil
}

var (
	_ BlobStore = (*LocalBlobStore)(nil)
	_ BlobStore = (*storage.MinIO)(nil)
)
