package knowledge

import (
	"fmt"
	"time"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// Task registry helpers. Tasks are in-memory only; restarts lose them while
// the document registry is rebuilt from the vector index.

// GetTask returns a copy of a task by id.
func (s *Service) GetTask(id string) (*model.ProcessingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	copied := *task
	return &copied, nil
}

func (s *Service) setTaskState(task *model.ProcessingTask, status model.TaskStatus, progress float64, step string) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Status = status
	task.Progress = progress
	if step != "" {
		task.CurrentStep = step
	}
}

// advanceTask marks the pipeline as entering the given 1-based step.
func (s *Service) advanceTask(task *model.ProcessingTask, step int, name string) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task.CurrentStep = name
	task.CompletedSteps = step - 1
	task.Progress = float64(step-1) / float64(task.TotalSteps)
}

func (s *Service) completeTask(task *model.ProcessingTask) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	task.Status = model.TaskCompleted
	task.Progress = 1.0
	task.CompletedSteps = task.TotalSteps
	task.CompletedAt = &now
}

func (s *Service) failTask(task *model.ProcessingTask, err error) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	task.Status = model.TaskFailed
	task.Error = err.Error()
	task.CompletedAt = &now
}
