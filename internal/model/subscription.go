package model

import "time"

// Subscription tracks one active provider push subscription. Resource,
// change types and routing metadata are retained so a dropped subscription
// can be recreated from scratch without manual input.
type Subscription struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	ChangeTypes []string  `json:"change_types"`
	AgentName   string    `json:"agent_name"`
	Kind        string    `json:"kind"` // watched resource kind: mail, calendar
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
