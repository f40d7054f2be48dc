package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type EventType string

const (
	TypeCreate   EventType = "Create"
	TypeAssign   EventType = "Assign"
	TypeComplete EventType = "Complete"
)

// Current schema versions stamped on emitted events.
const (
	CreateVersion   = 2
	AssignVersion   = 1
	CompleteVersion = 1
)

func CurrentVersion(t EventType) int {
	switch t {
	case TypeCreate:
		return CreateVersion
	case TypeAssign:
		return AssignVersion
	case TypeComplete:
		return CompleteVersion
	default:
		return 0
	}
}

// Event is one of CreateEvent, AssignEvent or CompleteEvent.
type Event interface {
	Type() EventType
	Task() uuid.UUID
	Version() int
	Time() time.Time
	isEvent()
}

type CreateEvent struct {
	TaskID        uuid.UUID
	Price         int64
	Title         string
	Description   string
	JiraID        string
	Timestamp     time.Time
	SchemaVersion int
}

type AssignEvent struct {
	TaskID        uuid.UUID
	Assignee      string
	Price         int64
	Timestamp     time.Time
	SchemaVersion int
}

type CompleteEvent struct {
	TaskID        uuid.UUID
	UserID        string
	Reward        int64
	Timestamp     time.Time
	SchemaVersion int
}

func (e CreateEvent) Type() EventType { return TypeCreate }
func (e CreateEvent) Task() uuid.UUID { return e.TaskID }
func (e CreateEvent) Version() int    { return e.SchemaVersion }
func (e CreateEvent) Time() time.Time { return e.Timestamp }
func (CreateEvent) isEvent()          {}

func (e AssignEvent) Type() EventType { return TypeAssign }
func (e AssignEvent) Task() uuid.UUID { return e.TaskID }
func (e AssignEvent) Version() int    { return e.SchemaVersion }
func (e AssignEvent) Time() time.Time { return e.Timestamp }
func (AssignEvent) isEvent()          {}

func (e CompleteEvent) Type() EventType { return TypeComplete }
func (e CompleteEvent) Task() uuid.UUID { return e.TaskID }
func (e CompleteEvent) Version() int    { return e.SchemaVersion }
func (e CompleteEvent) Time() time.Time { return e.Timestamp }
func (CompleteEvent) isEvent()          {}

type wireHeader struct {
	Type    EventType `json:"type" validate:"required,oneof=Create Assign Complete"`
	Version int       `json:"version" validate:"gt=0"`
}

type wireCreate struct {
	Type        EventType `json:"type"`
	TaskID      uuid.UUID `json:"taskId" validate:"required"`
	Price       int64     `json:"price" validate:"gt=0"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	JiraID      string    `json:"jiraId,omitempty"`
	Version     int       `json:"version"`
	Timestamp   int64     `json:"timestamp" validate:"gt=0"`
}

type wireAssign struct {
	Type      EventType `json:"type"`
	TaskID    uuid.UUID `json:"taskId" validate:"required"`
	Assignee  string    `json:"assignee" validate:"required"`
	Price     int64     `json:"price" validate:"gt=0"`
	Version   int       `json:"version"`
	Timestamp int64     `json:"timestamp" validate:"gt=0"`
}

type wireComplete struct {
	Type      EventType `json:"type"`
	TaskID    uuid.UUID `json:"taskId" validate:"required"`
	Reward    int64     `json:"reward" validate:"gt=0"`
	UserID    string    `json:"userId" validate:"required"`
	Version   int       `json:"version"`
	Timestamp int64     `json:"timestamp" validate:"gt=0"`
}

var validate = validator.New()

// Encode serializes ev. Events not stamped with their type's current version
// are refused so stale producers cannot emit them.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if want := CurrentVersion(ev.Type()); ev.Version() != want {
		return nil, fmt.Errorf("%w: %s v%d, current is v%d", ErrEventVersion, ev.Type(), ev.Version(), want)
	}
	switch e := ev.(type) {
	case CreateEvent:
		return json.Marshal(wireCreate{
			Type:        TypeCreate,
			TaskID:      e.TaskID,
			Price:       e.Price,
			Title:       e.Title,
			Description: e.Description,
			JiraID:      e.JiraID,
			Version:     e.SchemaVersion,
			Timestamp:   e.Timestamp.UnixMilli(),
		})
	case AssignEvent:
		return json.Marshal(wireAssign{
			Type:      TypeAssign,
			TaskID:    e.TaskID,
			Assignee:  e.Assignee,
			Price:     e.Price,
			Version:   e.SchemaVersion,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	case CompleteEvent:
		return json.Marshal(wireComplete{
			Type:      TypeComplete,
			TaskID:    e.TaskID,
			Reward:    e.Reward,
			UserID:    e.UserID,
			Version:   e.SchemaVersion,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown event %T", ErrInvalidEvent, ev)
	}
}

// Decode parses a task event. Create accepts v1 (no jira id) and v2; the
// other types accept only their current version.
func Decode(data []byte) (Event, error) {
	var h wireHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := validate.Struct(h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	switch h.Type {
	case TypeCreate:
		if h.Version != 1 && h.Version != CreateVersion {
			return nil, fmt.Errorf("%w: Create v%d", ErrEventVersion, h.Version)
		}
		var w wireCreate
		if err := decodeWire(data, &w); err != nil {
			return nil, err
		}
		if h.Version >= 2 {
			if !ValidateJiraID(w.JiraID) {
				return nil, fmt.Errorf("%w: jira id %q", ErrInvalidEvent, w.JiraID)
			}
			if !validTitle(w.Title) {
				return nil, fmt.Errorf("%w: title %q", ErrInvalidEvent, w.Title)
			}
		} else {
			w.JiraID = ""
		}
		return CreateEvent{
			TaskID:        w.TaskID,
			Price:         w.Price,
			Title:         w.Title,
			Description:   w.Description,
			JiraID:        w.JiraID,
			Timestamp:     time.UnixMilli(w.Timestamp),
			SchemaVersion: h.Version,
		}, nil
	case TypeAssign:
		if h.Version != AssignVersion {
			return nil, fmt.Errorf("%w: Assign v%d", ErrEventVersion, h.Version)
		}
		var w wireAssign
		if err := decodeWire(data, &w); err != nil {
			return nil, err
		}
		return AssignEvent{
			TaskID:        w.TaskID,
			Assignee:      w.Assignee,
			Price:         w.Price,
			Timestamp:     time.UnixMilli(w.Timestamp),
			SchemaVersion: h.Version,
		}, nil
	case TypeComplete:
		if h.Version != CompleteVersion {
			return nil, fmt.Errorf("%w: Complete v%d", ErrEventVersion, h.Version)
		}
		var w wireComplete
		if err := decodeWire(data, &w); err != nil {
			return nil, err
		}
		return CompleteEvent{
			TaskID:        w.TaskID,
			UserID:        w.UserID,
			Reward:        w.Reward,
			Timestamp:     time.UnixMilli(w.Timestamp),
			SchemaVersion: h.Version,
		}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrInvalidEvent, h.Type)
	}
}

func decodeWire(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}
