package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatPPTX Format = "pptx"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
	FormatSVG  Format = "svg"
)

// FormatForExtension maps a lowercase file extension (with dot) to its format.
// The bool reports whether the extension is supported.
func FormatForExtension(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDOCX, true
	case ".pptx":
		return FormatPPTX, true
	case ".xlsx":
		return FormatXLSX, true
	case ".html", ".htm":
		return FormatHTML, true
	case ".jpg", ".jpeg":
		return FormatJPG, true
	case ".png":
		return FormatPNG, true
	case ".svg":
		return FormatSVG, true
	default:
		return "", false
	}
}

// AllFormats lists every supported format, in the order they are reported
// by the status histogram.
func AllFormats() []Format {
	return []Format{FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX, FormatHTML, FormatJPG, FormatPNG, FormatSVG}
}

// ProcessingStatus tracks a document through the ingest pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusPartial    ProcessingStatus = "partial"
)

// ProcessingMethod records how text was obtained from a document.
type ProcessingMethod string

const (
	MethodTextExtraction ProcessingMethod = "text_extraction"
	MethodOCR            ProcessingMethod = "ocr"
	MethodHybrid         ProcessingMethod = "hybrid"
	MethodImageAnalysis  ProcessingMethod = "image_analysis"
)

// TaskStatus tracks an async processing task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Document is an ingested file. One Document exists per unique content hash;
// the knowledge service mutates it during processing.
type Document struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename"`
	FilePath         string                 `json:"file_path"`
	ContentHash      string                 `json:"content_hash"`
	Format           Format                 `json:"format"`
	SizeBytes        int64                  `json:"size_bytes"`
	DateAdded        time.Time              `json:"date_added"`
	DateModified     time.Time              `json:"date_modified"`
	ProcessingStatus ProcessingStatus       `json:"processing_status"`
	ProcessingMethod ProcessingMethod       `json:"processing_method,omitempty"`
	ChunkCount       int                    `json:"chunk_count"`
	Contexts         []string               `json:"contexts"`
	Metadata         map[string]interface{} `json:"metadata"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
}

// NewDocument builds a pending document with a fresh id and UTC timestamps.
func NewDocument(filename, filePath, contentHash string, format Format, sizeBytes int64, contexts []string, metadata map[string]interface{}) *Document {
	now := time.Now().UTC()
	if len(contexts) == 0 {
		contexts = []string{DefaultContext}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Document{
		ID:               uuid.New().String(),
		Filename:         filename,
		FilePath:         filePath,
		ContentHash:      contentHash,
		Format:           format,
		SizeBytes:        sizeBytes,
		DateAdded:        now,
		DateModified:     now,
		ProcessingStatus: StatusPending,
		Contexts:         contexts,
		Metadata:         metadata,
	}
}

// ValidateFilename rejects empty names and names carrying path separators
// or NUL bytes.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidFilename
	}
	return nil
}

// DefaultContext is the reserved context that always exists and cannot be
// created or deleted through the API.
const DefaultContext = "default"

var contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateContextName checks a context name against the naming rules:
// alphanumeric plus dash and underscore, 1-64 characters.
func ValidateContextName(name string) error {
	if !contextNamePattern.MatchString(name) {
		return ErrInvalidContextName
	}
	return nil
}

// Context is a named document collection backed by one vector-store
// collection.
type Context struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	DocumentCount int                    `json:"document_count"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewContext builds a context record with UTC timestamps. The name must
// already be validated.
func NewContext(name, description string, metadata map[string]interface{}) *Context {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Context{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
}

// Reserved reports whether the context name is reserved.
func (c *Context) Reserved() bool {
	return c.Name == DefaultContext
}

// ProcessingTask tracks one async ingest job. Tasks live only in memory;
// the document registry is rebuilt from the vector index on restart, tasks
// are not.
type ProcessingTask struct {
	TaskID         string     `json:"task_id"`
	DocumentID     string     `json:"document_id"`
	Status         TaskStatus `json:"status"`
	Progress       float64    `json:"progress"`
	CurrentStep    string     `json:"current_step"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// NewProcessingTask builds a queued task for the given document.
func NewProcessingTask(documentID string, totalSteps int) *ProcessingTask {
	return &ProcessingTask{
		TaskID:     uuid.New().String(),
		DocumentID: documentID,
		Status:     TaskQueued,
		TotalSteps: totalSteps,
		StartedAt:  time.Now().UTC(),
	}
}

// SearchResult is one ranked passage returned by a search.
type SearchResult struct {
	ChunkID          string  `json:"chunk_id"`
	DocumentID       string  `json:"document_id"`
	Filename         string  `json:"filename"`
	ChunkText        string  `json:"chunk_text"`
	RelevanceScore   float64 `json:"relevance_score"`
	ChunkIndex       int     `json:"chunk_index"`
	Context          string  `json:"context"`
	Format           string  `json:"format"`
	ProcessingMethod string  `json:"processing_method"`
}
