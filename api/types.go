package api

import (
	"context"

	"tripboard-api/board"
	"tripboard-api/domain"
)

// BoardService abstracts the board mutation protocol for handlers.
type BoardService interface {
	Create(ctx context.Context, userID, templateID string, in board.CreateInput) (domain.EnrichedTask, error)
	Board(ctx context.Context, templateID string) (domain.GroupedBoard, error)
	Update(ctx context.Context, userID, templateID, taskID string, patch board.UpdateInput) (domain.EnrichedTask, error)
	Move(ctx context.Context, userID, templateID, taskID string, in board.MoveInput) (domain.GroupedBoard, error)
	Delete(ctx context.Context, templateID, taskID string) (domain.GroupedBoard, error)
	Members(ctx context.Context, templateID string) ([]domain.MemberView, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

const requestBodyMaxSize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
}
