package models

import "time"

// Notification is an entity-change event fanned out to connected operators.
// Delivery is fire-and-forget; loss is permitted.
type Notification struct {
	ID         string    `json:"id"`
	Pentest    string    `json:"pentest"`
	Collection string    `json:"collection"`
	IID        string    `json:"iid"`
	Action     string    `json:"action"` // insert, update, delete
	Time       time.Time `json:"time"`
}
