package models

import "time"

type NotificationType string

const (
	NotificationJoinedShoot    NotificationType = "joined_shoot"
	NotificationLeftShoot      NotificationType = "left_shoot"
	NotificationScoreUpdate    NotificationType = "score_update"
	NotificationPositionChange NotificationType = "position_change"
	NotificationArcherFinished NotificationType = "archer_finished"
)

// Notification describes one change to a shoot. Shoot always holds the full snapshot
// after the change, so any single notification is enough to resynchronise a client.
type Notification struct {
	Type       NotificationType `json:"type"`
	ShootCode  string           `json:"shootCode"`
	ArcherName string           `json:"archerName,omitempty"`
	Message    string           `json:"message,omitempty"`
	Shoot      *Shoot           `json:"shoot"`
	Timestamp  time.Time        `json:"timestamp"`
}
