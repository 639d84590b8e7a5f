// Package model defines the program-side entities of the execution core.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Language identifies a supported program language
type Language string

const (
	LanguagePython Language = "python"
	LanguageCSharp Language = "csharp"
	LanguageJava   Language = "java"
	LanguageNodeJS Language = "nodejs"
)

// Valid reports whether the language is one of the supported set
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageCSharp, LanguageJava, LanguageNodeJS:
		return true
	}
	return false
}

// Program represents a user-authored program
type Program struct {
	ID               string                 `json:"id" bson:"_id"`
	Name             string                 `json:"name" bson:"name"`
	Language         Language               `json:"language" bson:"language"`
	UIType           string                 `json:"uiType" bson:"ui_type"`
	CurrentVersionID string                 `json:"currentVersionId,omitempty" bson:"current_version_id,omitempty"`
	Permissions      map[string]string      `json:"permissions,omitempty" bson:"permissions,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time              `json:"updatedAt" bson:"updated_at"`
}

// NewProgram creates a program with a fresh id
func NewProgram(name string, language Language) (*Program, error) {
	if name == "" {
		return nil, errors.New("program name is required")
	}
	if !language.Valid() {
		return nil, errors.New("unsupported language: " + string(language))
	}

	now := time.Now()
	return &Program{
		ID:        uuid.New().String(),
		Name:      name,
		Language:  language,
		Metadata:  make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetCurrentVersion moves the version pointer
func (p *Program) SetCurrentVersion(versionID string) {
	p.CurrentVersionID = versionID
	p.UpdatedAt = time.Now()
}

// VersionStatus identifies the review state of a version
type VersionStatus string

const (
	VersionPending  VersionStatus = "pending"
	VersionApproved VersionStatus = "approved"
	VersionRejected VersionStatus = "rejected"
)

// VersionFile describes one file belonging to a version
type VersionFile struct {
	Path       string `json:"path" bson:"path"`
	StorageKey string `json:"storageKey" bson:"storage_key"`
	Hash       string `json:"hash" bson:"hash"`
	Size       int64  `json:"size" bson:"size"`
	FileType   string `json:"fileType" bson:"file_type"`
}

// Version represents one immutable snapshot of a program's sources
type Version struct {
	ID        string        `json:"id" bson:"_id"`
	ProgramID string        `json:"programId" bson:"program_id"`
	Number    int           `json:"number" bson:"number"`
	Status    VersionStatus `json:"status" bson:"status"`
	Files     []VersionFile `json:"files" bson:"files"`
	CreatedAt time.Time     `json:"createdAt" bson:"created_at"`
}

// NewVersion creates the next version for a program. Numbers are dense and
// strictly increasing per program; the caller supplies the next number.
func NewVersion(programID string, number int) (*Version, error) {
	if programID == "" {
		return nil, errors.New("program id is required")
	}
	if number < 1 {
		return nil, errors.New("version number must be >= 1")
	}

	return &Version{
		ID:        uuid.New().String(),
		ProgramID: programID,
		Number:    number,
		Status:    VersionPending,
		Files:     make([]VersionFile, 0),
		CreatedAt: time.Now(),
	}, nil
}

// Approve marks the version executable
func (v *Version) Approve() error {
	if v.Status == VersionRejected {
		return errors.New("rejected version cannot be approved")
	}
	v.Status = VersionApproved
	return nil
}

// Reject marks the version rejected
func (v *Version) Reject() {
	v.Status = VersionRejected
}

// Executable reports whether the version may be run
func (v *Version) Executable() bool {
	return v.Status == VersionApproved
}

// UiComponent represents a version-scoped UI definition consumed by the
// stub generator. (programID, versionID, name) is unique among active
// components.
type UiComponent struct {
	ID            string                 `json:"id" bson:"_id"`
	ProgramID     string                 `json:"programId" bson:"program_id"`
	VersionID     string                 `json:"versionId" bson:"version_id"`
	Type          string                 `json:"type" bson:"type"`
	Name          string                 `json:"name" bson:"name"`
	Configuration map[string]interface{} `json:"configuration" bson:"configuration"`
	Schema        map[string]interface{} `json:"schema,omitempty" bson:"schema,omitempty"`
	Status        string                 `json:"status" bson:"status"`
	CreatedAt     time.Time              `json:"createdAt" bson:"created_at"`
}

// Elements returns the component's configuration elements, if declared
func (c *UiComponent) Elements() []map[string]interface{} {
	raw, ok := c.Configuration["elements"].([]interface{})
	if !ok {
		return nil
	}

	elements := make([]map[string]interface{}, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]interface{}); ok {
			elements = append(elements, m)
		}
	}
	return elements
}
