package board

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tripboard-api/domain"
)

const dueDateLayout = "01/02/2006"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Due dates travel as MM/DD/YYYY strings; anything else is rejected at
	// the boundary.
	_ = v.RegisterValidation("usdate", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if raw == "" {
			return true
		}
		parsed, err := time.Parse(dueDateLayout, raw)
		return err == nil && parsed.Format(dueDateLayout) == raw
	})
	return v
}

// CreateInput is the shape accepted by Create. Status and priority fall back
// to the board defaults when omitted.
type CreateInput struct {
	Title    string `json:"title" validate:"required"`
	Status   string `json:"status" validate:"omitempty,oneof=Empty InProgress Done Deleted"`
	Priority string `json:"priority" validate:"omitempty,oneof=high medium low"`
	Assignee string `json:"assignee"`
	DueDate  string `json:"dueDate" validate:"usdate"`
}

// UpdateInput carries a partial patch; nil fields are left untouched.
type UpdateInput struct {
	Title    *string `json:"title" validate:"omitempty,min=1"`
	Priority *string `json:"priority" validate:"omitempty,oneof=high medium low"`
	Assignee *string `json:"assignee"`
	DueDate  *string `json:"dueDate" validate:"omitempty,usdate"`
}

// Empty reports whether the patch carries no fields at all.
func (in UpdateInput) Empty() bool {
	return in.Title == nil && in.Priority == nil && in.Assignee == nil && in.DueDate == nil
}

// MoveInput names the target column and intra-column position of a move.
type MoveInput struct {
	Status   string `json:"status" validate:"required,oneof=Empty InProgress Done Deleted"`
	Position int    `json:"position"`
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.Wrap(domain.CodeValidation, "invalid input", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return domain.E(domain.CodeValidation, "invalid fields: "+strings.Join(fields, ", "))
}
