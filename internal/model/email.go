package model

import "time"

// EmailRecord is a single ingested business email. Records are owned by the
// mail store and treated as immutable input by the pipeline.
type EmailRecord struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}
