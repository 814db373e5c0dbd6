package models

// SessionStatus represents the status of a parse session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusParsing   SessionStatus = "parsing"
	SessionStatusComplete  SessionStatus = "complete"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusError     SessionStatus = "error"
)

// ParseSession represents one ingestion of an uploaded file.
type ParseSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	LinesProcessed   int           `json:"linesProcessed"`
	RecordCount      int           `json:"recordCount,omitempty"`
	ThreadCount      int           `json:"threadCount,omitempty"`
	ObjectMode       bool          `json:"objectMode"`
	Profile          string        `json:"profile,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Decoder          string        `json:"decoder,omitempty"`
	Errors           []ParseError  `json:"errors,omitempty"`
}

// ParseError represents an error encountered during parsing.
type ParseError struct {
	Line    int    `json:"line"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason"`
}

// NewParseSession creates a new ParseSession in pending status.
func NewParseSession(id, fileID string) *ParseSession {
	return &ParseSession{
		ID:       id,
		FileID:   fileID,
		Status:   SessionStatusPending,
		Progress: 0,
		Errors:   make([]ParseError, 0),
	}
}

// Done reports whether the session has stopped running.
func (s *ParseSession) Done() bool {
	switch s.Status {
	case SessionStatusComplete, SessionStatusCancelled, SessionStatusError:
		return true
	}
	return false
}
