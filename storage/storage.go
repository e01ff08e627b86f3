package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"tripboard-api/board"
	"tripboard-api/domain"
)

// boardMarkerRowKey is the row written when a board is lazily created. Its
// presence distinguishes "board exists but is empty" from "no board was ever
// created for this template".
const boardMarkerRowKey = "board"

// Storage provides access to underlying persistence mechanisms. Boards live
// in one table partitioned by template id; templates and users are directory
// tables keyed by their own id.
type Storage struct {
	boardTable    *aztables.Client
	templateTable *aztables.Client
	userTable     *aztables.Client
	notifyQueue   *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, templatesTable, usersTable, notifyQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, notifyQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:    svc.NewClient(boardsTable),
		templateTable: svc.NewClient(templatesTable),
		userTable:     svc.NewClient(usersTable),
		notifyQueue:   nq,
	}, nil
}

// timestampLayout is how CreatedAt/UpdatedAt travel in task rows. The Table
// service types unannotated JSON numbers as Edm.Int32, which cannot hold a
// nanosecond epoch, so timestamps are stored as Edm.String values instead.
const timestampLayout = time.RFC3339Nano

type taskEntity struct {
	aztables.Entity
	Title        string `json:"Title"`
	Status       string `json:"Status"`
	Position     int    `json:"Position"`
	Priority     string `json:"Priority"`
	Assignee     string `json:"Assignee"`
	CreatedBy    string `json:"CreatedBy"`
	LastEditedBy string `json:"LastEditedBy"`
	DueDate      string `json:"DueDate"`
	CreatedAt    string `json:"CreatedAt"`
	UpdatedAt    string `json:"UpdatedAt"`
}

func (e taskEntity) toTask() (domain.Task, error) {
	createdAt, err := time.Parse(timestampLayout, e.CreatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: bad CreatedAt %q: %w", e.RowKey, e.CreatedAt, err)
	}
	updatedAt, err := time.Parse(timestampLayout, e.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: bad UpdatedAt %q: %w", e.RowKey, e.UpdatedAt, err)
	}
	return domain.Task{
		ID:           e.RowKey,
		Title:        e.Title,
		Status:       domain.Status(e.Status),
		Position:     e.Position,
		Priority:     domain.Priority(e.Priority),
		Assignee:     e.Assignee,
		CreatedBy:    e.CreatedBy,
		LastEditedBy: e.LastEditedBy,
		DueDate:      e.DueDate,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func taskToEntity(templateID string, t domain.Task) taskEntity {
	return taskEntity{
		Entity:       aztables.Entity{PartitionKey: templateID, RowKey: t.ID},
		Title:        t.Title,
		Status:       string(t.Status),
		Position:     t.Position,
		Priority:     string(t.Priority),
		Assignee:     t.Assignee,
		CreatedBy:    t.CreatedBy,
		LastEditedBy: t.LastEditedBy,
		DueDate:      t.DueDate,
		CreatedAt:    t.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:    t.UpdatedAt.UTC().Format(timestampLayout),
	}
}

// FetchBoard retrieves every task of the template's board. It returns
// domain.ErrBoardNotFound when the board marker has never been written.
func (s *Storage) FetchBoard(ctx context.Context, templateID string) ([]domain.Task, error) {
	filter := partitionFilter(templateID)
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	exists := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			if ent.RowKey == boardMarkerRowKey {
				exists = true
				continue
			}
			task, err := ent.toTask()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	if !exists {
		return nil, domain.ErrBoardNotFound
	}
	return tasks, nil
}

// EnsureBoard lazily writes the board marker. Re-creating an existing board
// is a no-op.
func (s *Storage) EnsureBoard(ctx context.Context, templateID string) error {
	marker := aztables.Entity{PartitionKey: templateID, RowKey: boardMarkerRowKey}
	data, err := json.Marshal(map[string]any{
		"PartitionKey": marker.PartitionKey,
		"RowKey":       marker.RowKey,
		"CreatedAt":    time.Now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return err
	}
	if _, err := s.boardTable.AddEntity(ctx, data, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return nil
		}
		return err
	}
	return nil
}

func (s *Storage) InsertTask(ctx context.Context, templateID string, t domain.Task) error {
	data, err := json.Marshal(taskToEntity(templateID, t))
	if err != nil {
		return err
	}
	_, err = s.boardTable.AddEntity(ctx, data, nil)
	return err
}

func (s *Storage) GetTask(ctx context.Context, templateID, taskID string) (domain.Task, error) {
	if taskID == boardMarkerRowKey {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	resp, err := s.boardTable.GetEntity(ctx, templateID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.toTask()
}

func (s *Storage) PutTask(ctx context.Context, templateID string, t domain.Task) error {
	data, err := json.Marshal(taskToEntity(templateID, t))
	if err != nil {
		return err
	}
	_, err = s.boardTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil && isNotFound(err) {
		return domain.ErrTaskNotFound
	}
	return err
}

// MoveTask rewrites the task's status, position and edit stamps as a single
// ETag-guarded transaction against the board partition. A concurrent write
// between the read and the commit aborts the whole move.
func (s *Storage) MoveTask(ctx context.Context, templateID, taskID string, status domain.Status, position int, editorID string, at time.Time) error {
	resp, err := s.boardTable.GetEntity(ctx, templateID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.ErrTaskNotFound
		}
		return err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return err
	}
	ent.Status = string(status)
	ent.Position = position
	ent.LastEditedBy = editorID
	ent.UpdatedAt = at.UTC().Format(timestampLayout)
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	etag := resp.ETag
	actions := []aztables.TransactionAction{{
		ActionType: aztables.TransactionTypeUpdateReplace,
		Entity:     data,
		IfMatch:    &etag,
	}}
	if _, err := s.boardTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return domain.Wrap(domain.CodeTransactionAborted, "move transaction aborted", err)
	}
	return nil
}

func (s *Storage) DeleteTask(ctx context.Context, templateID, taskID string) error {
	if _, err := s.boardTable.DeleteEntity(ctx, templateID, taskID, nil); err != nil {
		if isNotFound(err) {
			return domain.ErrTaskNotFound
		}
		return err
	}
	return nil
}

type templateEntity struct {
	aztables.Entity
	Name    string `json:"Name"`
	Members string `json:"Members"`
}

// FetchTemplate loads the template metadata and its member list. The member
// list is embedded as a JSON column, mirroring the document layout of the
// source system.
func (s *Storage) FetchTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	resp, err := s.templateTable.GetEntity(ctx, templateID, templateID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Template{}, domain.Wrap(domain.CodeBoardNotFound, "template not found", err)
		}
		return domain.Template{}, err
	}
	var ent templateEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Template{}, err
	}
	tpl := domain.Template{ID: templateID, Name: ent.Name}
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &tpl.Members); err != nil {
			return domain.Template{}, fmt.Errorf("decode member list for %s: %w", templateID, err)
		}
	}
	return tpl, nil
}

type userEntity struct {
	aztables.Entity
	AvatarURL string `json:"AvatarURL"`
	Avatar    string `json:"Avatar"`
}

// FetchUsers resolves the given user ids against the user directory. Unknown
// ids are skipped so callers see a nil reference rather than an error.
func (s *Storage) FetchUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	users := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		resp, err := s.userTable.GetEntity(ctx, id, id, nil)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		var ent userEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return nil, err
		}
		users[id] = domain.User{ID: id, AvatarURL: ent.AvatarURL, Avatar: ent.Avatar}
	}
	return users, nil
}

// EnqueueAssignment sends the notification envelope to the mailer queue.
func (s *Storage) EnqueueAssignment(ctx context.Context, a board.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.notifyQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// partitionFilter builds the OData filter for one board partition. Template
// ids come off the request path, so single quotes are doubled per the OData
// quoting rules instead of trusting the caller.
func partitionFilter(templateID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(templateID, "'", "''") + "'"
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
