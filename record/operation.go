package record

import (
	"fmt"
	"net/http"
	"time"
)

// Action is the kind of mutation a caller asks for.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Method returns the HTTP method used to send a.
func (a Action) Method() string {
	switch a {
	case ActionCreate:
		return http.MethodPost
	case ActionUpdate:
		return http.MethodPut
	case ActionDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// ActionForMethod is the inverse of Action.Method.
func ActionForMethod(method string) (Action, bool) {
	switch method {
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	default:
		return 0, false
	}
}

// PendingOperation is a write that could not reach the remote and waits for replay.
// Seq is assigned by the operation log and is strictly increasing.
type PendingOperation struct {
	Seq            int64
	Collection     Collection
	RecordID       string
	Method         string
	URL            string
	Header         map[string]string
	Body           []byte
	EnqueuedAt     time.Time
	IdempotencyKey string
}

// Action returns the mutation this operation performs.
func (op PendingOperation) Action() Action {
	a, _ := ActionForMethod(op.Method)
	return a
}
