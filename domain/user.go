package domain

import "time"

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
