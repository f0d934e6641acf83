// Package registry 会话内的文档与流水线运行的内存存储
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"recruit-agent-go/internal/types"
)

// ErrStaleGeneration 会话已重置，旧的后台任务不能再写入
var ErrStaleGeneration = errors.New("会话已重置")

// TaskHandle 运行的后台任务句柄
type TaskHandle interface {
	Cancel()
}

// CommitHook 每次运行变更提交后调用，prev 为变更前的状态（新建时为空）。
// 回调在运行锁之外执行，同一运行的回调按提交顺序串行；提交方在回调全部完成后才返回
type CommitHook func(prev types.RunStatus, run *types.PipelineRun)

type hookEvent struct {
	prev types.RunStatus
	run  *types.PipelineRun
}

type runEntry struct {
	mu      sync.Mutex
	run     *types.PipelineRun
	task    TaskHandle
	pending []hookEvent // 待投递的提交，受 mu 保护

	hookMu sync.Mutex // 串行化回调投递，不与 mu 嵌套持有
}

// Store 一把读写锁保护 map，每个运行另有一把互斥锁串行化对它的修改
type Store struct {
	mu         sync.RWMutex
	generation uint64
	docs       map[string]types.Document
	docOrder   []string
	runs       map[string]*runEntry

	hooks []CommitHook
	now   func() time.Time
}

// Option Store 的可选配置
type Option func(*Store)

// WithCommitHook 注册提交回调
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 创建空的 Store
func NewStore(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]types.Document),
		runs: make(map[string]*runEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generation 当前会话代数，每次 Reset 加一
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// AddDocument 保存文档，同 ID 覆盖但保持原顺序
func (s *Store) AddDocument(doc types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.docOrder = append(s.docOrder, doc.ID)
	}
	s.docs[doc.ID] = doc
}

// GetDocument 按 ID 读取文档
func (s *Store) GetDocument(id string) (types.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// ListDocuments 按上传时间升序，时间相同按插入顺序
func (s *Store) ListDocuments() []types.Document {
	s.mu.RLock()
	out := make([]types.Document, 0, len(s.docOrder))
	for _, id := range s.docOrder {
		out = append(out, s.docs[id])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out
}

// Resumes 全部简历，顺序同 ListDocuments
func (s *Store) Resumes() []types.Document {
	all := s.ListDocuments()
	out := make([]types.Document, 0, len(all))
	for _, d := range all {
		if d.DocType == types.DocTypeResume {
			out = append(out, d)
		}
	}
	return out
}

// CreateRun 保存新运行，返回快照与创建时的会话代数
func (s *Store) CreateRun(run *types.PipelineRun) (*types.PipelineRun, uint64) {
	stored := run.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	entry := &runEntry{run: stored}

	entry.mu.Lock()
	s.mu.Lock()
	s.runs[stored.RunID] = entry
	gen := s.generation
	s.mu.Unlock()
	entry.enqueue(s.hooks, "", stored)
	snap := stored.Clone()
	entry.mu.Unlock()

	s.dispatch(entry)
	return snap, gen
}

func (s *Store) entry(id string) (*runEntry, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[id]
	return e, s.generation, ok
}

// UpdateRun 在运行锁内对副本执行 fn，fn 返回 nil 才提交。
// 返回提交后的快照；运行不存在时返回 NotFound
func (s *Store) UpdateRun(id string, fn func(run *types.PipelineRun) error) (*types.PipelineRun, error) {
	e, _, ok := s.entry(id)
	if !ok {
		return nil, types.NewNotFoundError("update_run", id, "Pipeline run not found")
	}
	return s.commit(e, nil, fn)
}

// UpdateRunAt 同 UpdateRun，但只在会话代数仍为 gen 时写入，供后台任务使用
func (s *Store) UpdateRunAt(gen uint64, id string, fn func(run *types.PipelineRun) error) (*types.PipelineRun, error) {
	e, current, ok := s.entry(id)
	if current != gen {
		return nil, ErrStaleGeneration
	}
	if !ok {
		return nil, types.NewNotFoundError("update_run", id, "Pipeline run not found")
	}
	return s.commit(e, &gen, fn)
}

func (s *Store) commit(e *runEntry, gen *uint64, fn func(run *types.PipelineRun) error) (*types.PipelineRun, error) {
	e.mu.Lock()
	// Reset 先递增代数再逐个获取运行锁，这里持锁后再确认一次
	if gen != nil && s.Generation() != *gen {
		e.mu.Unlock()
		return nil, ErrStaleGeneration
	}

	prev := e.run.Status
	draft := e.run.Clone()
	if err := fn(draft); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	draft.UpdatedAt = s.now().UTC()
	e.run = draft
	e.enqueue(s.hooks, prev, draft)
	snap := draft.Clone()
	e.mu.Unlock()

	s.dispatch(e)
	return snap, nil
}

// enqueue 记录一次待投递的提交，调用方持有 e.mu
func (e *runEntry) enqueue(hooks []CommitHook, prev types.RunStatus, run *types.PipelineRun) {
	if len(hooks) == 0 {
		return
	}
	e.pending = append(e.pending, hookEvent{prev: prev, run: run.Clone()})
}

// dispatch 按提交顺序投递该运行积压的回调。
// 拿到 hookMu 时若队列已空，说明前一个投递者已替本次提交完成投递
func (s *Store) dispatch(e *runEntry) {
	if len(s.hooks) == 0 {
		return
	}
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		for _, h := range s.hooks {
			h(ev.prev, ev.run.Clone())
		}
	}
}

// Snapshot 深拷贝运行的当前状态
func (s *Store) Snapshot(id string) (*types.PipelineRun, error) {
	e, _, ok := s.entry(id)
	if !ok {
		return nil, types.NewNotFoundError("get_run", id, "Pipeline run not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.Clone(), nil
}

// SetTask 记录运行的后台任务句柄
func (s *Store) SetTask(id string, task TaskHandle) error {
	e, _, ok := s.entry(id)
	if !ok {
		return types.NewNotFoundError("set_task", id, "Pipeline run not found")
	}
	e.mu.Lock()
	e.task = task
	e.mu.Unlock()
	return nil
}

// Task 运行当前的后台任务句柄
func (s *Store) Task(id string) (TaskHandle, bool) {
	e, _, ok := s.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, e.task != nil
}

// RunCount 当前会话的运行数
func (s *Store) RunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Reset 清空文档与运行并递增会话代数，返回被清掉的任务句柄，由调用方取消
func (s *Store) Reset() []TaskHandle {
	s.mu.Lock()
	entries := s.runs
	s.docs = make(map[string]types.Document)
	s.docOrder = nil
	s.runs = make(map[string]*runEntry)
	s.generation++
	s.mu.Unlock()

	tasks := make([]TaskHandle, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.task != nil {
			tasks = append(tasks, e.task)
		}
		e.mu.Unlock()
	}
	return tasks
}
