package model

// Task statuses recognized by the reconciler. The remote system may report
// others; they are carried through untouched.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// IsTerminal reports whether status is one from which the remote system makes
// no further progress until the task is reset to pending.
func IsTerminal(status string) bool {
	switch status {
	case StatusFailed, StatusFinished, StatusStopped:
		return true
	}
	return false
}

// Task is a remotely executed unit of compute work.
type Task struct {
	UID    string         `json:"uid"`
	Name   string         `json:"name,omitempty"`
	Status string         `json:"status"`
	Config map[string]any `json:"config,omitempty"`

	// ErrorMessages is only set on the sentinel returned for a soft failure.
	ErrorMessages []string `json:"errorMessages,omitempty"`
}

// ErrorTask returns a sentinel task carrying a soft failure.
func ErrorTask(messages ...string) *Task {
	return &Task{ErrorMessages: messages}
}

// Failed reports whether t is a soft-failure sentinel.
func (t *Task) Failed() bool {
	return t != nil && len(t.ErrorMessages) > 0
}

// Params is used both for query filters and for create/update payloads.
// Values are JSON-shaped: string, bool, number, []any or map[string]any.
type Params map[string]any

// Clone returns a shallow copy of p. A nil receiver yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Options controls server-side execution semantics of an update.
type Options map[string]any

const (
	// OptionRunAs selects which configuration an update executes against.
	OptionRunAs = "runAs"
	// RunAsLast runs against the most recently supplied configuration.
	RunAsLast = "last"
)

// Credentials are forwarded unchanged to the remote API.
type Credentials struct {
	AccessToken  string `json:"access,omitempty"`
	RefreshToken string `json:"refresh,omitempty"`
}

// Endpoint identifies a remote collection of tasks.
type Endpoint struct {
	BaseURL      string
	ResourcePath string
}
