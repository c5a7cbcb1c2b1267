package model

import (
	"strings"

	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

const (
	SourceSheets  = "sheets"
	SourceRecords = "records"
)

// DefaultStatus is assigned to drafts submitted without a status.
const DefaultStatus = "in-progress"

// Task represents a task from any remote source.
type Task struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date"`
	CompletionDate string `json:"completion_date"`
	CreationDate   string `json:"creation_date"`
	Source         string `json:"source,omitempty"` // "sheets" or "records"
}

// Draft is a Task without the fields the backend assigns.
type Draft struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date"`
	CompletionDate string `json:"completion_date"`
}

// Validate reports a ValidationError if the draft cannot be submitted.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return &taskerr.ValidationError{Field: "title", Msg: "title is required"}
	}
	return nil
}

// Normalize trims the title and fills in the default status.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	if strings.TrimSpace(d.Status) == "" {
		d.Status = DefaultStatus
	}
	return d
}

// Patch carries the fields to change on an existing task. Nil fields are left alone.
type Patch struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Status         *string `json:"status,omitempty"`
	StartDate      *string `json:"start_date,omitempty"`
	CompletionDate *string `json:"completion_date,omitempty"`
}

// PatchFromDraft returns a patch that sets every field of d.
func PatchFromDraft(d Draft) Patch {
	return Patch{
		Title:          &d.Title,
		Description:    &d.Description,
		Status:         &d.Status,
		StartDate:      &d.StartDate,
		CompletionDate: &d.CompletionDate,
	}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.StartDate == nil && p.CompletionDate == nil
}

// Complete reports whether every field is supplied.
func (p Patch) Complete() bool {
	return p.Title != nil && p.Description != nil && p.Status != nil &&
		p.StartDate != nil && p.CompletionDate != nil
}

// Validate rejects patches that would blank out the title.
func (p Patch) Validate() error {
	if p.Empty() {
		return &taskerr.ValidationError{Msg: "nothing to update"}
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &taskerr.ValidationError{Field: "title", Msg: "title is required"}
	}
	return nil
}

// Apply returns t with the supplied fields replaced.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.CompletionDate != nil {
		t.CompletionDate = *p.CompletionDate
	}
	return t
}
