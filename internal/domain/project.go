package domain

import "time"

// Project groups tasks. Names are unique ignoring case among live projects.
type Project struct {
	ID          string
	Name        string
	Description string
	StartDate   time.Time
	EndDate     *time.Time
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasValidDateRange reports whether the optional end date is not before the start date.
func (p *Project) HasValidDateRange() bool {
	return p.EndDate == nil || !p.EndDate.Before(p.StartDate)
}

// Snapshot returns the field values recorded in audit events.
func (p *Project) Snapshot() map[string]any {
	return map[string]any{
		"projectId":   p.ID,
		"name":        p.Name,
		"description": p.Description,
		"startDate":   p.StartDate.Format(DateLayout),
		"endDate":     FormatDate(p.EndDate),
		"deleted":     p.Deleted,
	}
}
