package schemas

import "time"

// -- Execution Schemas --

// ExecutionStatus is the state of a live run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionStopped
}

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of an execution's audit trail.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Execution is a live run record. The tracker is its only writer.
type Execution struct {
	ID        string          `json:"id"`
	ScriptID  string          `json:"script_id"`
	Status    ExecutionStatus `json:"status"`
	Params    map[string]any  `json:"params,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
	Logs      []LogEntry      `json:"logs"`
}

// AppendLog adds a timestamped entry to the audit trail.
func (e *Execution) AppendLog(level LogLevel, message string) {
	e.Logs = append(e.Logs, LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message})
}

// Transition moves a running execution into a terminal state. It returns an
// InvalidStateError when the execution has already finished.
func (e *Execution) Transition(to ExecutionStatus, at time.Time) error {
	if e.Status != ExecutionRunning {
		return &InvalidStateError{Entity: "execution", ID: e.ID, State: string(e.Status), Operation: string(to)}
	}
	e.Status = to
	end := at.UTC()
	e.EndTime = &end
	e.Duration = end.Sub(e.StartTime)
	return nil
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.Logs = append([]LogEntry(nil), e.Logs...)
	if e.Params != nil {
		c.Params = make(map[string]any, len(e.Params))
		for k, v := range e.Params {
			c.Params[k] = v
		}
	}
	if e.EndTime != nil {
		end := *e.EndTime
		c.EndTime = &end
	}
	return &c
}

// ExecutionFilter selects executions for listing. Page is 1-based; a zero
// Limit means the repository default.
type ExecutionFilter struct {
	ScriptID string
	Status   ExecutionStatus
	Page     int
	Limit    int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

// Normalize clamps paging parameters into range.
func (f ExecutionFilter) Normalize() ExecutionFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

// Offset is the number of records skipped before the requested page.
func (f ExecutionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches reports whether an execution satisfies the filter's predicates.
func (f ExecutionFilter) Matches(e *Execution) bool {
	if f.ScriptID != "" && e.ScriptID != f.ScriptID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}
