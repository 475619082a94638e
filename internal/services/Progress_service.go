// internal/services/Progress_service.go
package services

import (
	"sort"
	"sync"
	"time"
)

// 任务状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// finishedRetention 已结束任务保留多久，之后在下一次 TryStart 时清理
const finishedRetention = 10 * time.Minute

// ProgressUpdate 任务当前状态
type ProgressUpdate struct {
	TaskID   string `json:"taskId"`
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message"`
	Stage    string `json:"stage,omitempty"` // generating / splitting / saving
	Status   string `json:"status"`
}

// ProgressTracker 一个后台任务，例如一个分镜的宫格图生成
type ProgressTracker struct {
	mu        sync.Mutex
	state     ProgressUpdate
	startedAt time.Time
	updatedAt time.Time
	done      chan struct{}
}

// ProgressService 同一 TaskID 同时只允许一个运行中的任务
type ProgressService struct {
	mu       sync.Mutex
	trackers map[string]*ProgressTracker
	now      func() time.Time
}

func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
		now:      time.Now,
	}
}

// TryStart 任务未在运行时创建跟踪器并返回 true；已在运行时返回现有跟踪器和 false
func (s *ProgressService) TryStart(taskID string) (*ProgressTracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tracker, exists := s.trackers[taskID]; exists && tracker.IsRunning() {
		return tracker, false
	}
	s.pruneLocked(finishedRetention)

	now := s.now()
	tracker := &ProgressTracker{
		state:     ProgressUpdate{TaskID: taskID, Status: StatusRunning, Message: "queued"},
		startedAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}
	s.trackers[taskID] = tracker
	return tracker, true
}

func (s *ProgressService) IsRunning(taskID string) bool {
	s.mu.Lock()
	tracker, exists := s.trackers[taskID]
	s.mu.Unlock()
	return exists && tracker.IsRunning()
}

// Snapshot 任务最近一次状态
func (s *ProgressService) Snapshot(taskID string) (ProgressUpdate, bool) {
	s.mu.Lock()
	tracker, exists := s.trackers[taskID]
	s.mu.Unlock()
	if !exists {
		return ProgressUpdate{}, false
	}
	return tracker.Snapshot(), true
}

// Running 运行中的任务 ID，已排序
func (s *ProgressService) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.trackers))
	for id, tracker := range s.trackers {
		if tracker.IsRunning() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Prune 清理结束超过 maxAge 的任务
func (s *ProgressService) Prune(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(maxAge)
}

func (s *ProgressService) pruneLocked(maxAge time.Duration) {
	now := s.now()
	for id, tracker := range s.trackers {
		tracker.mu.Lock()
		expired := tracker.state.Status != StatusRunning && now.Sub(tracker.updatedAt) > maxAge
		tracker.mu.Unlock()
		if expired {
			delete(s.trackers, id)
		}
	}
}

func (t *ProgressTracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status == StatusRunning
}

func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done 任务结束时关闭
func (t *ProgressTracker) Done() <-chan struct{} {
	return t.done
}

// Elapsed 从开始到最近一次更新
func (t *ProgressTracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt.Sub(t.startedAt)
}

// UpdateProgress 更新阶段与进度，进度只增不减；结束后忽略
func (t *ProgressTracker) UpdateProgress(stage string, progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusRunning {
		return
	}

	if stage != "" {
		t.state.Stage = stage
	}
	if progress > t.state.Progress {
		t.state.Progress = min(progress, 100)
	}
	if message != "" {
		t.state.Message = message
	}
	t.updatedAt = time.Now()
}

func (t *ProgressTracker) Complete(message string) {
	t.finish(StatusCompleted, message)
}

func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(StatusFailed, errorMsg)
}

// finish 只生效一次
func (t *ProgressTracker) finish(status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusRunning {
		return
	}

	if status == StatusCompleted {
		t.state.Progress = 100
	}
	if message != "" {
		t.state.Message = message
	}
	t.state.Status = status
	t.updatedAt = time.Now()
	close(t.done)
}
