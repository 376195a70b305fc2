package dto

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/service"
)

// Field limits enforced on request bodies.
const (
	MinTitleLength       = 5
	MaxTitleLength       = 150
	MinNameLength        = 3
	MaxNameLength        = 100
	MaxDescriptionLength = 2000
)

// CreateTaskRequest represents the request body for POST /tasks.
type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	ProjectID   string  `json:"projectId"`
}

// Validate checks field constraints and reports every violation at once.
func (r CreateTaskRequest) Validate() error {
	var p problems
	p.length("title", r.Title, MinTitleLength, MaxTitleLength)
	p.maxLength("description", r.Description, MaxDescriptionLength)
	if r.Status != "" {
		p.status(r.Status)
	}
	if r.Priority != "" {
		p.priority(r.Priority)
	}
	p.date("dueDate", r.DueDate)
	p.uuid("projectId", r.ProjectID)
	return p.err()
}

// Input converts a validated request.
func (r CreateTaskRequest) Input() service.CreateTaskInput {
	return service.CreateTaskInput{
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		Status:      domain.TaskStatus(r.Status),
		Priority:    domain.TaskPriority(r.Priority),
		DueDate:     mustDate(r.DueDate),
		ProjectID:   r.ProjectID,
	}
}

// UpdateTaskRequest represents the request body for PUT /tasks/{id}. Absent fields are kept.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	ProjectID   *string `json:"projectId,omitempty"`
}

// Validate checks the fields that are present.
func (r UpdateTaskRequest) Validate() error {
	var p problems
	if r.Title != nil {
		p.length("title", *r.Title, MinTitleLength, MaxTitleLength)
	}
	if r.Description != nil {
		p.maxLength("description", *r.Description, MaxDescriptionLength)
	}
	if r.Status != nil {
		p.status(*r.Status)
	}
	if r.Priority != nil {
		p.priority(*r.Priority)
	}
	p.date("dueDate", r.DueDate)
	if r.ProjectID != nil {
		p.uuid("projectId", *r.ProjectID)
	}
	return p.err()
}

// Input converts a validated request.
func (r UpdateTaskRequest) Input() service.UpdateTaskInput {
	in := service.UpdateTaskInput{
		Description: r.Description,
		DueDate:     mustDate(r.DueDate),
		ProjectID:   r.ProjectID,
	}
	if r.Title != nil {
		title := strings.TrimSpace(*r.Title)
		in.Title = &title
	}
	if r.Status != nil {
		status := domain.TaskStatus(*r.Status)
		in.Status = &status
	}
	if r.Priority != nil {
		priority := domain.TaskPriority(*r.Priority)
		in.Priority = &priority
	}
	return in
}

// UpdateStatusRequest represents the request body for PUT /tasks/{id}/status.
type UpdateStatusRequest struct {
	NewStatus string `json:"status"`
}

// Validate checks the requested status.
func (r UpdateStatusRequest) Validate() error {
	var p problems
	p.status(r.NewStatus)
	return p.err()
}

// Status returns the requested status.
func (r UpdateStatusRequest) Status() domain.TaskStatus {
	return domain.TaskStatus(r.NewStatus)
}

// CreateProjectRequest represents the request body for POST /projects.
type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	StartDate   string  `json:"startDate"`
	EndDate     *string `json:"endDate,omitempty"`
}

// Validate checks field constraints. The date order is a business rule checked by the service.
func (r CreateProjectRequest) Validate() error {
	var p problems
	p.length("name", r.Name, MinNameLength, MaxNameLength)
	p.maxLength("description", r.Description, MaxDescriptionLength)
	if r.StartDate == "" {
		p.add("startDate is required")
	} else {
		p.date("startDate", &r.StartDate)
	}
	p.date("endDate", r.EndDate)
	return p.err()
}

// Input converts a validated request.
func (r CreateProjectRequest) Input() service.CreateProjectInput {
	in := service.CreateProjectInput{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		EndDate:     mustDate(r.EndDate),
	}
	if start := mustDate(&r.StartDate); start != nil {
		in.StartDate = *start
	}
	return in
}

// UpdateProjectRequest represents the request body for PUT /projects/{id}. Absent fields are kept.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	StartDate   *string `json:"startDate,omitempty"`
	EndDate     *string `json:"endDate,omitempty"`
}

// Validate checks the fields that are present.
func (r UpdateProjectRequest) Validate() error {
	var p problems
	if r.Name != nil {
		p.length("name", *r.Name, MinNameLength, MaxNameLength)
	}
	if r.Description != nil {
		p.maxLength("description", *r.Description, MaxDescriptionLength)
	}
	p.date("startDate", r.StartDate)
	p.date("endDate", r.EndDate)
	return p.err()
}

// Input converts a validated request.
func (r UpdateProjectRequest) Input() service.UpdateProjectInput {
	return service.UpdateProjectInput{
		Name:        r.Name,
		Description: r.Description,
		StartDate:   mustDate(r.StartDate),
		EndDate:     mustDate(r.EndDate),
	}
}

// problems collects field violations into one validation error.
type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) length(field, value string, lo, hi int) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n < lo || n > hi {
		p.add("%s must be between %d and %d characters", field, lo, hi)
	}
}

func (p *problems) maxLength(field, value string, hi int) {
	if utf8.RuneCountInString(value) > hi {
		p.add("%s must be at most %d characters", field, hi)
	}
}

func (p *problems) status(value string) {
	if !domain.TaskStatus(value).IsValid() {
		p.add("status must be one of TODO, DOING, DONE")
	}
}

func (p *problems) priority(value string) {
	if !domain.TaskPriority(value).IsValid() {
		p.add("priority must be one of LOW, MEDIUM, HIGH")
	}
}

func (p *problems) date(field string, value *string) {
	if value == nil {
		return
	}
	if _, err := time.Parse(domain.DateLayout, *value); err != nil {
		p.add("%s must be a date in YYYY-MM-DD format", field)
	}
}

func (p *problems) uuid(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		p.add("%s must be a valid UUID", field)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(p, "; "))
}

// mustDate parses a date that Validate already accepted.
func mustDate(value *string) *time.Time {
	if value == nil {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, *value)
	if err != nil {
		return nil
	}
	return &t
}
