package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/todo-service/internal/domain"
	"github.com/spec-kit/todo-service/internal/events"
	"github.com/spec-kit/todo-service/internal/observability"
	"github.com/spec-kit/todo-service/internal/repository"
	apperrors "github.com/spec-kit/todo-service/pkg/util/errorutil"
)

const (
	minTitleLen       = 3
	maxTitleLen       = 50
	maxDescriptionLen = 200
)

// TaskInput describes a create or update payload.
type TaskInput struct {
	Title       string
	Description string
	Status      domain.TaskStatus
}

// TaskService coordinates to-do item workflows.
type TaskService struct {
	tasks      repository.TaskRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewTaskService builds the service.
func NewTaskService(tasks repository.TaskRepository, dispatcher events.Dispatcher, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher(logger)
	}
	return &TaskService{tasks: tasks, dispatcher: dispatcher, logger: logger}
}

// FindAll lists every task.
func (s *TaskService) FindAll(ctx context.Context) ([]domain.Task, error) {
	return observability.Measure(s.logger, "tasks.find_all", func() ([]domain.Task, error) {
		return s.tasks.List(ctx)
	})
}

// FindByID returns a task or a not-found error.
func (s *TaskService) FindByID(ctx context.Context, id int64) (*domain.Task, error) {
	return observability.Measure(s.logger, "tasks.find_by_id", func() (*domain.Task, error) {
		task, err := s.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, mapTaskErr(err, id)
		}
		return task, nil
	})
}

// Create validates and stores a new task.
func (s *TaskService) Create(ctx context.Context, input TaskInput) (*domain.Task, error) {
	return observability.Measure(s.logger, "tasks.create", func() (*domain.Task, error) {
		task, err := buildTask(input)
		if err != nil {
			return nil, err
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return nil, err
		}
		s.publish(ctx, events.EventTaskCreated, task)
		return task, nil
	})
}

// Update replaces the fields of an existing task.
func (s *TaskService) Update(ctx context.Context, id int64, input TaskInput) (*domain.Task, error) {
	return observability.Measure(s.logger, "tasks.update", func() (*domain.Task, error) {
		task, err := buildTask(input)
		if err != nil {
			return nil, err
		}
		task.ID = id
		if err := s.tasks.Update(ctx, task); err != nil {
			return nil, mapTaskErr(err, id)
		}
		s.publish(ctx, events.EventTaskUpdated, task)
		return task, nil
	})
}

// Delete removes a task or returns a not-found error.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	return observability.MeasureErr(s.logger, "tasks.delete", func() error {
		if err := s.tasks.Delete(ctx, id); err != nil {
			return mapTaskErr(err, id)
		}
		s.publish(ctx, events.EventTaskDeleted, &domain.Task{ID: id})
		return nil
	})
}

func (s *TaskService) publish(ctx context.Context, eventType events.EventType, task *domain.Task) {
	event := events.NewEvent(eventType, actorFrom(ctx), events.TaskPayload{
		TaskID: task.ID,
		Title:  task.Title,
		Status: string(task.Status),
	})
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func buildTask(input TaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("task title cannot be empty", nil)
	}

	details := map[string]any{}
	if n := utf8.RuneCountInString(title); n < minTitleLen || n > maxTitleLen {
		details["title"] = "must be between 3 and 50 characters"
	}
	if utf8.RuneCountInString(input.Description) > maxDescriptionLen {
		details["description"] = "must not exceed 200 characters"
	}
	status := input.Status
	if status == "" {
		status = domain.TaskStatusResearching
	}
	if !status.Valid() {
		details["status"] = "must be one of RESEARCHING, TO_PROCESSING, CANCELLED, COMPLETED"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid task", details)
	}

	return &domain.Task{
		Title:       title,
		Description: input.Description,
		Status:      status,
	}, nil
}

func mapTaskErr(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("task", map[string]any{"id": id})
	}
	return err
}
