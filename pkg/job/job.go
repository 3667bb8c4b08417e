package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// UnknownRequestID is reported when a job carries no request id.
const UnknownRequestID = "unknown"

var (
	// ErrMalformed marks a payload that is not a JSON job object at all.
	ErrMalformed = errors.New("malformed job payload")
	// ErrMissingField marks a job object without one of its required fields.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField marks a job field holding the wrong JSON type.
	ErrInvalidField = errors.New("invalid field type")
)

type Job struct {
	RequestID string `json:"requestId"`
	FileName  string `json:"fileName"`
	ImageData string `json:"imageData"`
	Timestamp int64  `json:"timestamp,omitempty"`

	invalid []string
}

type TagData struct {
	Tags    []string `json:"tags"`
	Caption string   `json:"caption"`
}

type Result struct {
	RequestID   string   `json:"requestId"`
	Success     bool     `json:"success"`
	Data        *TagData `json:"data,omitempty"`
	Error       string   `json:"error,omitempty"`
	Worker      string   `json:"worker"`
	ProcessedAt string   `json:"processedAt"`
}

// Decode parses a raw queue payload. Only a payload that is not a JSON
// object yields ErrMalformed. Fields of the wrong type are recorded for
// Validate so the failure is still reported against the request id; a
// timestamp that is not a number is ignored.
func Decode(payload []byte) (Job, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Job{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var raw struct {
		RequestID json.RawMessage `json:"requestId"`
		FileName  json.RawMessage `json:"fileName"`
		ImageData json.RawMessage `json:"imageData"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var j Job
	j.RequestID = j.stringField("requestId", raw.RequestID)
	j.FileName = j.stringField("fileName", raw.FileName)
	j.ImageData = j.stringField("imageData", raw.ImageData)

	var ts float64
	if len(raw.Timestamp) > 0 && json.Unmarshal(raw.Timestamp, &ts) == nil {
		j.Timestamp = int64(ts)
	}
	return j, nil
}

func (j *Job) stringField(name string, raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		j.invalid = append(j.invalid, name)
		return ""
	}
	return v
}

func (j Job) Validate() error {
	if len(j.invalid) > 0 {
		return fmt.Errorf("%w: %s must be strings", ErrInvalidField, strings.Join(j.invalid, ", "))
	}
	var missing []string
	if strings.TrimSpace(j.RequestID) == "" {
		missing = append(missing, "requestId")
	}
	if strings.TrimSpace(j.FileName) == "" {
		missing = append(missing, "fileName")
	}
	if j.ImageData == "" {
		missing = append(missing, "imageData")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// ResultID is the request id to echo back, falling back to UnknownRequestID.
func (j Job) ResultID() string {
	if strings.TrimSpace(j.RequestID) != "" {
		return j.RequestID
	}
	return UnknownRequestID
}

// EnqueuedAt reports the producer timestamp (unix milliseconds) when present.
func (j Job) EnqueuedAt() (time.Time, bool) {
	if j.Timestamp <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(j.Timestamp), true
}

func Succeeded(requestID, worker string, tags []string, caption string, at time.Time) Result {
	return Result{
		RequestID:   requestID,
		Success:     true,
		Data:        &TagData{Tags: tags, Caption: caption},
		Worker:      worker,
		ProcessedAt: formatTime(at),
	}
}

func Failed(requestID, worker string, cause error, at time.Time) Result {
	msg := "job failed"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	if strings.TrimSpace(requestID) == "" {
		requestID = UnknownRequestID
	}
	return Result{
		RequestID:   requestID,
		Success:     false,
		Error:       msg,
		Worker:      worker,
		ProcessedAt: formatTime(at),
	}
}

// WorkerID identifies this process in logs and results.
func WorkerID() string {
	return fmt.Sprintf("mood-worker-%d", os.Getpid())
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.RFC3339Nano)
}
