package domain

// MemberRole controls what a template member may do.
type MemberRole string

const (
	RoleEdit MemberRole = "edit"
	RoleView MemberRole = "view"
)

// Member is one entry of a template's member list. UserID stays empty until
// the invitee registers.
type Member struct {
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	UserID       string     `json:"user,omitempty"`
	IsRegistered bool       `json:"isRegistered"`
	Role         MemberRole `json:"role"`
}

// Template carries the metadata the board needs from the owning trip
// template. Members are the authorization domain for task assignment.
type Template struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"listMembers"`
}

// HasMember reports whether the given user identity appears in the member
// list. Membership is by matching reference, not registration status.
func (t Template) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberName returns the display name recorded for the given user identity,
// or the empty string when the identity is not in the member list.
func (t Template) MemberName(userID string) string {
	for _, m := range t.Members {
		if m.UserID != "" && m.UserID == userID {
			return m.Name
		}
	}
	return ""
}

// User is the slice of the user directory the board joins against.
type User struct {
	ID        string `json:"id"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayAvatar prefers the stored avatar URL and falls back to the raw
// avatar value when the URL field is absent.
func (u User) DisplayAvatar() string {
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	return u.Avatar
}

// MemberView is the member projection returned to callers, with the internal
// user reference stripped.
type MemberView struct {
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar,omitempty"`
	IsRegistered bool       `json:"isRegistered"`
	Role         MemberRole `json:"role"`
}

// Enrich resolves the user reference fields of each task into display
// projections. It is a pure transform over already fetched data: the users
// map must contain the pre-joined user records, and references without a
// record come back nil.
func Enrich(tasks []Task, tpl Template, users map[string]User) []EnrichedTask {
	out := make([]EnrichedTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, EnrichedTask{
			ID:           t.ID,
			Title:        t.Title,
			Status:       t.Status,
			Position:     t.Position,
			Priority:     t.Priority,
			Assignee:     resolveRef(t.Assignee, tpl, users),
			CreatedBy:    resolveRef(t.CreatedBy, tpl, users),
			LastEditedBy: resolveRef(t.LastEditedBy, tpl, users),
			DueDate:      t.DueDate,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	return out
}

func resolveRef(userID string, tpl Template, users map[string]User) *UserRef {
	if userID == "" {
		return nil
	}
	u, ok := users[userID]
	if !ok {
		return nil
	}
	return &UserRef{
		ID:       userID,
		Avatar:   u.DisplayAvatar(),
		Username: tpl.MemberName(userID),
	}
}
