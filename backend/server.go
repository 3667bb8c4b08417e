package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"

	"github.com/imalyk/go-mood-tagger/pkg/job"
	"github.com/imalyk/go-mood-tagger/pkg/metrics"
)

var errTooLarge = errors.New("image exceeds upload limit")

// JobQueue is the producer side of the worker queue.
type JobQueue interface {
	Push(ctx context.Context, name string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
	Ping(ctx context.Context) error
}

type ObjectStore interface {
	Fetch(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

type minioStore struct {
	client *minio.Client
}

func (s minioStore) Fetch(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing object before reading.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

type server struct {
	cfg    config
	queue  JobQueue
	store  ObjectStore
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

func newServer(cfg config, q JobQueue, store ObjectStore, logger *slog.Logger) *server {
	return &server{
		cfg:    cfg,
		queue:  q,
		store:  store,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/mood", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/mood/object", s.handleObject).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

type submitResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Queue     string `json:"queue"`
}

type objectRequest struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	data, err := readLimited(file, s.cfg.MaxUploadBytes)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.submit(w, r, "upload", header.Filename, data)
}

func (s *server) handleObject(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	var req objectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Bucket = strings.TrimSpace(req.Bucket)
	req.Object = strings.TrimSpace(req.Object)
	if req.Bucket == "" || req.Object == "" {
		s.writeError(w, http.StatusBadRequest, "bucket and object are required")
		return
	}

	obj, err := s.store.Fetch(r.Context(), req.Bucket, req.Object)
	if err != nil {
		s.logger.Warn("failed to fetch object", "bucket", req.Bucket, "object", req.Object, "error", err)
		s.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	defer obj.Close()

	data, err := readLimited(obj, s.cfg.MaxUploadBytes)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.submit(w, r, "object", req.Object, data)
}

// submit enqueues one job. With ?wait=true it subscribes to the result
// channel before enqueueing and replies with the matching result.
func (s *server) submit(w http.ResponseWriter, r *http.Request, source, fileName string, data []byte) {
	j := job.Job{
		RequestID: s.newID(),
		FileName:  fileName,
		ImageData: base64.StdEncoding.EncodeToString(data),
		Timestamp: s.now().UnixMilli(),
	}
	payload, err := json.Marshal(j)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to prepare job")
		return
	}

	jl := s.logger.With("request_id", j.RequestID, "file_name", fileName, "source", source)

	wait := r.URL.Query().Get("wait") == "true"
	var (
		results  <-chan []byte
		closeSub func() error
		waitCtx  context.Context
		cancel   context.CancelFunc
	)
	if wait {
		waitCtx, cancel = context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
		defer cancel()
		results, closeSub, err = s.queue.Subscribe(waitCtx, s.cfg.ResultChannel)
		if err != nil {
			jl.Error("failed to subscribe to results", "error", err)
			s.writeError(w, http.StatusServiceUnavailable, "result channel unavailable")
			return
		}
		defer closeSub()
	}

	if err := s.queue.Push(r.Context(), s.cfg.QueueName, payload); err != nil {
		jl.Error("failed to enqueue job", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "failed to queue job for processing")
		return
	}
	metrics.JobsSubmittedTotal.WithLabelValues(source).Inc()
	jl.Info("job queued", "queue", s.cfg.QueueName, "bytes", len(data))

	if !wait {
		s.writeJSON(w, http.StatusAccepted, submitResponse{RequestID: j.RequestID, Status: "queued", Queue: s.cfg.QueueName})
		return
	}

	res, err := awaitResult(waitCtx, results, j.RequestID)
	if err != nil {
		jl.Warn("no result before wait timeout", "error", err)
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"requestId": j.RequestID,
			"status":    "queued",
			"error":     "timed out waiting for result",
		})
		return
	}

	code := http.StatusOK
	if !res.Success {
		code = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, code, res)
}

func awaitResult(ctx context.Context, results <-chan []byte, requestID string) (job.Result, error) {
	for {
		select {
		case <-ctx.Done():
			return job.Result{}, ctx.Err()
		case msg, ok := <-results:
			if !ok {
				return job.Result{}, errors.New("result subscription closed")
			}
			var res job.Result
			if err := json.Unmarshal(msg, &res); err != nil {
				continue
			}
			if res.RequestID == requestID {
				return res, nil
			}
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.queue.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": "error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "redis": "connected"})
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if n > limit {
		return nil, errTooLarge
	}
	if n == 0 {
		return nil, errors.New("image is empty")
	}
	return buf.Bytes(), nil
}

func statusFor(err error) int {
	if errors.Is(err, errTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
