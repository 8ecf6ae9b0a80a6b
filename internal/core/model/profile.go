package model

import "time"

// CriteriaProfile is the per-owner classification criteria derived from feedback.
type CriteriaProfile struct {
	Owner         string    `json:"owner"`
	Criteria      string    `json:"criteria"`
	Enabled       bool      `json:"enabled"`
	BasedOnCount  int       `json:"based_on_count"`
	RegeneratedAt time.Time `json:"regenerated_at"`
}

// Active returns the criteria text when the profile should steer classification.
func (p *CriteriaProfile) Active() string {
	if p == nil || !p.Enabled {
		return ""
	}
	return p.Criteria
}
