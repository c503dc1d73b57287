package contracts

import "time"

// GroupOutcome summarizes a group challenge whose member contracts have
// all reached a terminal state.
type GroupOutcome struct {
	GroupID      string    `json:"group_id"`
	Members      int       `json:"members"`
	Succeeded    int       `json:"succeeded"`
	AllSucceeded bool      `json:"all_succeeded"`
	BonusAwarded bool      `json:"bonus_awarded"`
	ResolvedAt   time.Time `json:"resolved_at"`
}
