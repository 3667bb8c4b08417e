package job

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		expectErr bool
		expected  Job
	}{
		{
			name:     "complete job",
			payload:  `{"requestId":"r1","fileName":"a.png","imageData":"aGVsbG8=","timestamp":1700000000000}`,
			expected: Job{RequestID: "r1", FileName: "a.png", ImageData: "aGVsbG8=", Timestamp: 1700000000000},
		},
		{
			name:     "missing fields still decode",
			payload:  `{"requestId":"r1","imageData":"not-valid-base64!"}`,
			expected: Job{RequestID: "r1", ImageData: "not-valid-base64!"},
		},
		{
			name:     "unknown fields ignored",
			payload:  ` {"requestId":"r2","extra":true} `,
			expected: Job{RequestID: "r2"},
		},
		{name: "invalid json", payload: `{invalid json}`, expectErr: true},
		{name: "null", payload: `null`, expectErr: true},
		{name: "array", payload: `[{"requestId":"r1"}]`, expectErr: true},
		{name: "string", payload: `"r1"`, expectErr: true},
		{name: "empty", payload: ``, expectErr: true},
		{
			name:     "fractional timestamp truncated",
			payload:  `{"requestId":"r1","fileName":"a.png","imageData":"x","timestamp":1712345678000.5}`,
			expected: Job{RequestID: "r1", FileName: "a.png", ImageData: "x", Timestamp: 1712345678000},
		},
		{
			name:     "non-numeric timestamp ignored",
			payload:  `{"requestId":"r1","fileName":"a.png","imageData":"x","timestamp":"2024-04-05T10:00:00Z"}`,
			expected: Job{RequestID: "r1", FileName: "a.png", ImageData: "x"},
		},
		{
			name:     "null fields read as empty",
			payload:  `{"requestId":"r1","fileName":null,"imageData":null}`,
			expected: Job{RequestID: "r1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Decode([]byte(tt.payload))

			if tt.expectErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, j)
		})
	}
}

func TestDecodeWrongFieldTypesFailValidation(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		expectedID string
		field      string
	}{
		{name: "numeric image data", payload: `{"requestId":"r1","fileName":"a.png","imageData":123}`, expectedID: "r1", field: "imageData"},
		{name: "object file name", payload: `{"requestId":"r1","fileName":{},"imageData":"x"}`, expectedID: "r1", field: "fileName"},
		{name: "numeric request id", payload: `{"requestId":42,"fileName":"a.png","imageData":"x"}`, expectedID: UnknownRequestID, field: "requestId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Decode([]byte(tt.payload))
			require.NoError(t, err)

			verr := j.Validate()
			assert.ErrorIs(t, verr, ErrInvalidField)
			assert.Contains(t, verr.Error(), tt.field)
			assert.Equal(t, tt.expectedID, j.ResultID())
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Job{RequestID: "r1", FileName: "a.png", ImageData: "x"}.Validate())

	err := Job{RequestID: "r1"}.Validate()
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "fileName")
	assert.Contains(t, err.Error(), "imageData")
	assert.NotContains(t, err.Error(), "requestId")

	err = Job{RequestID: "  ", FileName: "a.png", ImageData: "x"}.Validate()
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "requestId")
}

func TestResultID(t *testing.T) {
	assert.Equal(t, "r1", Job{RequestID: "r1"}.ResultID())
	assert.Equal(t, " r1", Job{RequestID: " r1"}.ResultID())
	assert.Equal(t, UnknownRequestID, Job{}.ResultID())
	assert.Equal(t, UnknownRequestID, Job{RequestID: "  "}.ResultID())
}

func TestEnqueuedAt(t *testing.T) {
	_, ok := Job{}.EnqueuedAt()
	assert.False(t, ok)

	at, ok := Job{Timestamp: 1700000000123}.EnqueuedAt()
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000123), at.UnixMilli())
}

func TestResultJSONShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	ok, err := json.Marshal(Succeeded("r1", "mood-worker-1", []string{"calm", "relaxed"}, "a cat", at))
	require.NoError(t, err)
	var success map[string]any
	require.NoError(t, json.Unmarshal(ok, &success))
	assert.Equal(t, "r1", success["requestId"])
	assert.Equal(t, true, success["success"])
	assert.Equal(t, "mood-worker-1", success["worker"])
	assert.NotContains(t, success, "error")
	assert.Equal(t, map[string]any{"tags": []any{"calm", "relaxed"}, "caption": "a cat"}, success["data"])

	processedAt, err := time.Parse(time.RFC3339Nano, success["processedAt"].(string))
	require.NoError(t, err)
	assert.True(t, processedAt.Equal(at))

	bad, err := json.Marshal(Failed("", "mood-worker-1", errors.New("boom"), at))
	require.NoError(t, err)
	var failure map[string]any
	require.NoError(t, json.Unmarshal(bad, &failure))
	assert.Equal(t, UnknownRequestID, failure["requestId"])
	assert.Equal(t, false, failure["success"])
	assert.Equal(t, "boom", failure["error"])
	assert.NotContains(t, failure, "data")
}

func TestFailedNeverHasEmptyError(t *testing.T) {
	assert.NotEmpty(t, Failed("r1", "w", nil, time.Now()).Error)
	assert.NotEmpty(t, Failed("r1", "w", errors.New(""), time.Now()).Error)
	assert.Equal(t, " r1", Failed(" r1", "w", nil, time.Now()).RequestID)
	assert.Equal(t, UnknownRequestID, Failed(" ", "w", nil, time.Now()).RequestID)
}

func TestWorkerIDStable(t *testing.T) {
	assert.Equal(t, WorkerID(), WorkerID())
	assert.Regexp(t, `^mood-worker-\d+$`, WorkerID())
}
