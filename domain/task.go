package domain

import (
	"sort"
	"time"
)

// Status identifies the board column a task is displayed in.
type Status string

const (
	StatusEmpty      Status = "Empty"
	StatusInProgress Status = "InProgress"
	StatusDone       Status = "Done"
	StatusDeleted    Status = "Deleted"
)

// Statuses lists every valid column in display order.
var Statuses = []Status{StatusEmpty, StatusInProgress, StatusDone, StatusDeleted}

func (s Status) Valid() bool {
	switch s {
	case StatusEmpty, StatusInProgress, StatusDone, StatusDeleted:
		return true
	}
	return false
}

// Priority orders tasks that share a position within a column.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank maps a priority to its sort weight. Higher ranks sort first among
// tasks sharing a position.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// Task is a single board item. Position is only meaningful within the
// task's (board, status) pair.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Position     int       `json:"position"`
	Priority     Priority  `json:"priority"`
	Assignee     string    `json:"assignee,omitempty"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	LastEditedBy string    `json:"lastEditedBy,omitempty"`
	DueDate      string    `json:"dueDate,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRef is the compact projection of a user reference attached to an
// enriched task.
type UserRef struct {
	ID       string `json:"id"`
	Avatar   string `json:"avatar"`
	Username string `json:"username"`
}

// EnrichedTask is a task with its user references resolved for display.
type EnrichedTask struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Position     int       `json:"position"`
	Priority     Priority  `json:"priority"`
	Assignee     *UserRef  `json:"assignee"`
	CreatedBy    *UserRef  `json:"createdBy"`
	LastEditedBy *UserRef  `json:"lastEditedBy"`
	DueDate      string    `json:"dueDate,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GroupedBoard is the column view of a board. All four buckets are always
// present, even when empty.
type GroupedBoard struct {
	Empty      []EnrichedTask `json:"Empty"`
	InProgress []EnrichedTask `json:"InProgress"`
	Done       []EnrichedTask `json:"Done"`
	Deleted    []EnrichedTask `json:"Deleted"`
}

// NewGroupedBoard returns a board with every bucket initialized so callers
// never observe a missing column.
func NewGroupedBoard() GroupedBoard {
	return GroupedBoard{
		Empty:      []EnrichedTask{},
		InProgress: []EnrichedTask{},
		Done:       []EnrichedTask{},
		Deleted:    []EnrichedTask{},
	}
}

// Bucket returns the column slice for the given status.
func (b *GroupedBoard) Bucket(s Status) *[]EnrichedTask {
	switch s {
	case StatusInProgress:
		return &b.InProgress
	case StatusDone:
		return &b.Done
	case StatusDeleted:
		return &b.Deleted
	}
	return &b.Empty
}

// NextPosition computes the insertion position for a new task in the given
// column. New tasks land at the top of their column, so the result is one
// below the current minimum, or 0 for an empty column.
func NextPosition(tasks []Task, status Status) int {
	found := false
	min := 0
	for _, t := range tasks {
		if t.Status != status {
			continue
		}
		if !found || t.Position < min {
			min = t.Position
		}
		found = true
	}
	if !found {
		return 0
	}
	return min - 1
}

// GroupAndSort buckets tasks by status and orders each column ascending by
// position, breaking position ties by priority rank descending.
func GroupAndSort(tasks []EnrichedTask) GroupedBoard {
	board := NewGroupedBoard()
	for _, t := range tasks {
		bucket := board.Bucket(t.Status)
		*bucket = append(*bucket, t)
	}
	for _, s := range Statuses {
		sortColumn(*board.Bucket(s))
	}
	return board
}

func sortColumn(tasks []EnrichedTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
	})
}
