package domain

import "time"

// Member represents a relay connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	ID          string    `json:"id"`
	ClientToken string    `json:"-"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id, clientToken string) *Member {
	return &Member{ID: id, ClientToken: clientToken, JoinedAt: time.Now()}
}
