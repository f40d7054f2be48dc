package task

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateNew       State = "new"
	StateAssigned  State = "assigned"
	StateCompleted State = "completed"
)

var (
	ErrTaskNotFound           = errors.New("task not found")
	ErrTaskNotAssignable      = errors.New("task is completed and cannot be assigned")
	ErrTaskNotCompletable     = errors.New("task is not assigned")
	ErrTaskCompletePermission = errors.New("only the assignee can complete the task")
	ErrInvalidTask            = errors.New("invalid task")
	ErrEventVersion           = errors.New("unsupported event version")
	ErrInvalidEvent           = errors.New("invalid event")

	ErrPublish    = errors.New("publish task event")
	ErrStoreRead  = errors.New("read task")
	ErrStoreWrite = errors.New("write task")
)

// IsValidation reports whether err is caused by the request rather than by
// infrastructure. Validation errors must not be retried.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrTaskNotAssignable),
		errors.Is(err, ErrTaskNotCompletable),
		errors.Is(err, ErrTaskCompletePermission),
		errors.Is(err, ErrInvalidTask),
		errors.Is(err, ErrEventVersion),
		errors.Is(err, ErrInvalidEvent):
		return true
	default:
		return false
	}
}

type Task struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	JiraID      string    `json:"jira_id,omitempty"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Reward      int64     `json:"reward,omitempty"`
	State       State     `json:"state"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var jiraRE = regexp.MustCompile(`^[A-Z]+-[0-9]+$`)

func ValidateJiraID(id string) bool {
	return jiraRE.MatchString(id)
}

func validTitle(title string) bool {
	title = strings.TrimSpace(title)
	return title != "" && !strings.ContainsAny(title, "[]")
}
