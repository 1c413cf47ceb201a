package history

import "time"

// Record is one completed invocation: what was asked, which model
// answered, and what landed on disk.
type Record struct {
	ID         string
	Prompt     string
	Model      string
	Operation  string // "generate" or "edit"
	OutputPath string
	ImageCount int
	Timestamp  time.Time
}
