package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Image     string    `json:"image,omitempty"`
	Gold      int64     `json:"gold"`
	CardCount int       `json:"cardCount"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EconomySnapshot is one daily sample of a user's counters.
type EconomySnapshot struct {
	UserID    string    `json:"userId"`
	Gold      int64     `json:"gold"`
	CardCount int       `json:"cardCount"`
	TakenAt   time.Time `json:"takenAt"`
}
