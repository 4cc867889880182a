package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the platform account. Profiles and wallet login live in a
// collaborating service; this backend only reads display fields.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"` // provider | customer
	ImageURL  string    `json:"image_url,omitempty"`
	Rating    float64   `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
