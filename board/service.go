// Package board implements the member-task board: per-column ordering,
// display enrichment and the create/read/update/move/delete protocol on top
// of an injected store and cache.
package board

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tripboard-api/domain"
)

// Store is the system of record for boards, templates and the user
// directory. Implementations map not-found conditions to the domain
// sentinels.
type Store interface {
	FetchBoard(ctx context.Context, templateID string) ([]domain.Task, error)
	EnsureBoard(ctx context.Context, templateID string) error
	InsertTask(ctx context.Context, templateID string, t domain.Task) error
	GetTask(ctx context.Context, templateID, taskID string) (domain.Task, error)
	PutTask(ctx context.Context, templateID string, t domain.Task) error
	// MoveTask performs the status+position write as a single all-or-nothing
	// commit scoped to the board.
	MoveTask(ctx context.Context, templateID, taskID string, status domain.Status, position int, editorID string, at time.Time) error
	DeleteTask(ctx context.Context, templateID, taskID string) error
	FetchTemplate(ctx context.Context, templateID string) (domain.Template, error)
	FetchUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
	EnqueueAssignment(ctx context.Context, a Assignment) error
}

// Cache mirrors board reads. Every method is best-effort: implementations
// swallow and log their own failures, so the service never branches on cache
// errors.
type Cache interface {
	LoadBoard(ctx context.Context, templateID string) (domain.GroupedBoard, bool)
	StoreBoard(ctx context.Context, templateID string, b domain.GroupedBoard)
	PrependTask(ctx context.Context, templateID string, t domain.EnrichedTask)
	ReplaceTask(ctx context.Context, templateID string, t domain.EnrichedTask)
	LoadMembers(ctx context.Context, templateID string) ([]domain.MemberView, bool)
	StoreMembers(ctx context.Context, templateID string, members []domain.MemberView)
}

// Assignment is the notification envelope enqueued when a task is assigned
// to somebody other than the acting user. The mailer drains the queue out of
// process.
type Assignment struct {
	TemplateID string    `json:"templateId"`
	TaskID     string    `json:"taskId"`
	TaskTitle  string    `json:"taskTitle"`
	Assignee   string    `json:"assignee"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// Service runs the board mutation protocol.
type Service struct {
	store Store
	cache Cache
	log   *log.Logger

	now   func() time.Time
	newID func() string
}

func NewService(store Store, cache Cache, logger *log.Logger) *Service {
	if store == nil {
		panic("board.NewService: store is nil")
	}
	if cache == nil {
		panic("board.NewService: cache is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store: store,
		cache: cache,
		log:   logger,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create validates the input, places the task at the top of its column and
// returns the enriched result. The board is created lazily on the first task
// of a template.
func (s *Service) Create(ctx context.Context, userID, templateID string, in CreateInput) (domain.EnrichedTask, error) {
	if err := validateInput(in); err != nil {
		return domain.EnrichedTask{}, err
	}
	status := domain.StatusEmpty
	if in.Status != "" {
		status = domain.Status(in.Status)
	}
	priority := domain.PriorityHigh
	if in.Priority != "" {
		priority = domain.Priority(in.Priority)
	}

	tpl, err := s.store.FetchTemplate(ctx, templateID)
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	assignee := in.Assignee
	if assignee == "" {
		assignee = userID
	} else if !tpl.HasMember(assignee) {
		return domain.EnrichedTask{}, domain.ErrAssigneeNotMember
	}

	tasks, err := s.store.FetchBoard(ctx, templateID)
	if err != nil {
		if !errors.Is(err, domain.ErrBoardNotFound) {
			return domain.EnrichedTask{}, err
		}
		if err := s.store.EnsureBoard(ctx, templateID); err != nil {
			return domain.EnrichedTask{}, err
		}
		tasks = nil
	}

	now := s.now()
	task := domain.Task{
		ID:        s.newID(),
		Title:     in.Title,
		Status:    status,
		Position:  domain.NextPosition(tasks, status),
		Priority:  priority,
		Assignee:  assignee,
		CreatedBy: userID,
		DueDate:   in.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertTask(ctx, templateID, task); err != nil {
		return domain.EnrichedTask{}, err
	}

	enriched, err := s.enrichOne(ctx, templateID, task.ID, tpl)
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	s.cache.PrependTask(ctx, templateID, enriched)
	s.notifyAssignment(ctx, templateID, task, userID)
	return enriched, nil
}

// Board returns the grouped column view, cache-first.
func (s *Service) Board(ctx context.Context, templateID string) (domain.GroupedBoard, error) {
	if cached, ok := s.cache.LoadBoard(ctx, templateID); ok {
		return cached, nil
	}
	grouped, err := s.loadGrouped(ctx, templateID)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	s.cache.StoreBoard(ctx, templateID, grouped)
	return grouped, nil
}

// Update applies the patch fields, stamps lastEditedBy and mirrors the
// refreshed task into the cached snapshot.
func (s *Service) Update(ctx context.Context, userID, templateID, taskID string, patch UpdateInput) (domain.EnrichedTask, error) {
	if patch.Empty() {
		return domain.EnrichedTask{}, domain.E(domain.CodeValidation, "empty patch")
	}
	if err := validateInput(patch); err != nil {
		return domain.EnrichedTask{}, err
	}

	tpl, err := s.store.FetchTemplate(ctx, templateID)
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	if patch.Assignee != nil && *patch.Assignee != "" && !tpl.HasMember(*patch.Assignee) {
		return domain.EnrichedTask{}, domain.ErrAssigneeNotMember
	}

	task, err := s.store.GetTask(ctx, templateID, taskID)
	if err != nil {
		return domain.EnrichedTask{}, err
	}

	previousAssignee := task.Assignee
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Priority != nil {
		task.Priority = domain.Priority(*patch.Priority)
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.DueDate != nil {
		task.DueDate = *patch.DueDate
	}
	task.LastEditedBy = userID
	task.UpdatedAt = s.now()

	if err := s.store.PutTask(ctx, templateID, task); err != nil {
		return domain.EnrichedTask{}, err
	}

	enriched, err := s.enrichOne(ctx, templateID, taskID, tpl)
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	s.cache.ReplaceTask(ctx, templateID, enriched)
	if task.Assignee != previousAssignee {
		s.notifyAssignment(ctx, templateID, task, userID)
	}
	return enriched, nil
}

// Move changes the grouping and ordering keys together inside one store
// transaction, then rebuilds the grouped snapshot wholesale.
func (s *Service) Move(ctx context.Context, userID, templateID, taskID string, in MoveInput) (domain.GroupedBoard, error) {
	if err := validateInput(in); err != nil {
		return domain.GroupedBoard{}, err
	}
	if err := s.store.MoveTask(ctx, templateID, taskID, domain.Status(in.Status), in.Position, userID, s.now()); err != nil {
		return domain.GroupedBoard{}, err
	}
	grouped, err := s.loadGrouped(ctx, templateID)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	s.cache.StoreBoard(ctx, templateID, grouped)
	return grouped, nil
}

// Delete removes the task from the board entirely and rebuilds the grouped
// snapshot from what remains.
func (s *Service) Delete(ctx context.Context, templateID, taskID string) (domain.GroupedBoard, error) {
	if _, err := s.store.GetTask(ctx, templateID, taskID); err != nil {
		return domain.GroupedBoard{}, err
	}
	if err := s.store.DeleteTask(ctx, templateID, taskID); err != nil {
		return domain.GroupedBoard{}, err
	}
	grouped, err := s.loadGrouped(ctx, templateID)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	s.cache.StoreBoard(ctx, templateID, grouped)
	return grouped, nil
}

// Members returns the template member projection, cache-first against the
// timeline namespace.
func (s *Service) Members(ctx context.Context, templateID string) ([]domain.MemberView, error) {
	if cached, ok := s.cache.LoadMembers(ctx, templateID); ok {
		return cached, nil
	}
	tpl, err := s.store.FetchTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tpl.Members))
	for _, m := range tpl.Members {
		if m.UserID != "" {
			ids = append(ids, m.UserID)
		}
	}
	users, err := s.store.FetchUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]domain.MemberView, 0, len(tpl.Members))
	for _, m := range tpl.Members {
		view := domain.MemberView{
			Email:        m.Email,
			Name:         m.Name,
			IsRegistered: m.IsRegistered,
			Role:         m.Role,
		}
		if u, ok := users[m.UserID]; ok {
			view.Avatar = u.DisplayAvatar()
		}
		views = append(views, view)
	}
	s.cache.StoreMembers(ctx, templateID, views)
	return views, nil
}

// loadGrouped rebuilds the full column view from the store of record.
func (s *Service) loadGrouped(ctx context.Context, templateID string) (domain.GroupedBoard, error) {
	tasks, err := s.store.FetchBoard(ctx, templateID)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	tpl, err := s.store.FetchTemplate(ctx, templateID)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	users, err := s.fetchRefUsers(ctx, tasks)
	if err != nil {
		return domain.GroupedBoard{}, err
	}
	return domain.GroupAndSort(domain.Enrich(tasks, tpl, users)), nil
}

// enrichOne re-fetches a single task after a write and joins its user
// references.
func (s *Service) enrichOne(ctx context.Context, templateID, taskID string, tpl domain.Template) (domain.EnrichedTask, error) {
	task, err := s.store.GetTask(ctx, templateID, taskID)
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	users, err := s.fetchRefUsers(ctx, []domain.Task{task})
	if err != nil {
		return domain.EnrichedTask{}, err
	}
	return domain.Enrich([]domain.Task{task}, tpl, users)[0], nil
}

func (s *Service) fetchRefUsers(ctx context.Context, tasks []domain.Task) (map[string]domain.User, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		for _, id := range []string{t.Assignee, t.CreatedBy, t.LastEditedBy} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.FetchUsers(ctx, ids)
}

// notifyAssignment enqueues the mailer envelope. Enqueue failures are logged
// and swallowed: a notification must never fail a board mutation.
func (s *Service) notifyAssignment(ctx context.Context, templateID string, task domain.Task, actor string) {
	if task.Assignee == "" || task.Assignee == actor {
		return
	}
	a := Assignment{
		TemplateID: templateID,
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		Assignee:   task.Assignee,
		Actor:      actor,
		At:         s.now(),
	}
	if err := s.store.EnqueueAssignment(ctx, a); err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"template": templateID,
			"task":     task.ID,
		}).Warn("failed to enqueue assignment notification")
	}
}
