package models

import "time"

// Run outcomes
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
)

// TrainingRun records one retraining cycle, successful or not.
type TrainingRun struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	StartedAt    time.Time `gorm:"index;not null" json:"started_at"`
	FinishedAt   time.Time `gorm:"not null" json:"finished_at"`
	Outcome      string    `gorm:"size:10;index;not null" json:"outcome"` // SUCCESS, FAILED
	FailedStage  string    `gorm:"size:20" json:"failed_stage,omitempty"` // acquisition, features, training, publication
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	DataSource   string    `gorm:"size:10" json:"data_source,omitempty"` // remote, backup
	AsOf         time.Time `gorm:"type:date" json:"as_of"`
	Observations int       `json:"observations"`
	FeatureRows  int       `json:"feature_rows"`
	Regions      int       `json:"regions"`
	RMSE         float64   `json:"rmse"`
	R2           float64   `json:"r2"`
	Generation   string    `gorm:"size:64" json:"generation,omitempty"`
}

// TableName specifies the table name for TrainingRun
func (TrainingRun) TableName() string {
	return "training_runs"
}

// Duration returns how long the cycle took.
func (r TrainingRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// PublishWebhookLog holds one webhook delivery attempt for a publish event
type PublishWebhookLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookURL     string    `gorm:"not null" json:"webhook_url"`
	Generation     string    `gorm:"size:64;index" json:"generation"`
	TriggeredAt    time.Time `gorm:"index;not null" json:"triggered_at"`
	Status         string    `gorm:"size:10" json:"status"` // SUCCESS, FAILED
	HTTPStatusCode *int      `json:"http_status_code,omitempty"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message,omitempty"`
	RetryAttempt   int       `json:"retry_attempt"`
}

// TableName specifies the table name for PublishWebhookLog
func (PublishWebhookLog) TableName() string {
	return "publish_webhook_logs"
}
