package models

import "time"

// ConversionStatus is the recorded lifecycle state of a conversion.
type ConversionStatus string

const (
	// ConversionStatusQueued indicates the conversion is waiting for a slot.
	ConversionStatusQueued ConversionStatus = "queued"
	// ConversionStatusRunning indicates the conversion is executing.
	ConversionStatusRunning ConversionStatus = "running"
	// ConversionStatusSucceeded indicates the conversion produced its output.
	ConversionStatusSucceeded ConversionStatus = "succeeded"
	// ConversionStatusFailed indicates the conversion finished without output.
	ConversionStatusFailed ConversionStatus = "failed"
	// ConversionStatusCancelled indicates the conversion was cancelled.
	ConversionStatusCancelled ConversionStatus = "cancelled"
)

// IsTerminal returns true for final statuses.
func (s ConversionStatus) IsTerminal() bool {
	switch s {
	case ConversionStatusSucceeded, ConversionStatusFailed, ConversionStatusCancelled:
		return true
	}
	return false
}

// Conversion is the persisted record of one conversion job. It survives
// process restarts so history remains queryable after the in-memory queue
// is gone.
type Conversion struct {
	BaseModel

	// JobID is the queue's job identifier.
	JobID string `gorm:"not null;size:26;uniqueIndex" json:"job_id"`

	InputPath  string `gorm:"not null;size:4096" json:"input_path"`
	OutputPath string `gorm:"not null;size:4096" json:"output_path"`

	Container  string `gorm:"not null;size:16" json:"container"`
	VideoCodec string `gorm:"size:32" json:"video_codec,omitempty"`
	AudioCodec string `gorm:"size:32" json:"audio_codec,omitempty"`

	// Decision records the compatibility outcome that admitted the job.
	Decision string `gorm:"size:32" json:"decision"`
	// Substitutions summarizes applied field rewrites, one per line.
	Substitutions string `gorm:"size:1024" json:"substitutions,omitempty"`

	Status ConversionStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`
	// Error contains the failure or cancellation reason.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// TableName returns the table name for Conversion.
func (Conversion) TableName() string {
	return "conversions"
}

// MarkRunning records the execution start.
func (c *Conversion) MarkRunning() {
	c.Status = ConversionStatusRunning
	now := time.Now()
	c.StartedAt = &now
}

// MarkFinished records a terminal status with an optional reason.
func (c *Conversion) MarkFinished(status ConversionStatus, reason string) {
	c.Status = status
	c.Error = reason
	now := time.Now()
	c.FinishedAt = &now
	if c.StartedAt != nil {
		c.DurationMs = now.Sub(*c.StartedAt).Milliseconds()
	}
}
