// Package processor turns one job into one result without ever failing past its boundary.
package processor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/imalyk/go-mood-tagger/pkg/captioner"
	"github.com/imalyk/go-mood-tagger/pkg/imagedata"
	"github.com/imalyk/go-mood-tagger/pkg/job"
)

// DefaultTags substitute for an empty derived tag set.
var DefaultTags = []string{"artistic", "visual", "expressive"}

type ImageDecoder interface {
	Decode(encoded string) (image.Image, error)
}

type TagDeriver interface {
	DeriveTags(caption string) []string
}

type Config struct {
	WorkerID  string
	MaxTokens int
}

type Processor struct {
	cfg       Config
	decoder   ImageDecoder
	captioner captioner.Captioner
	tags      TagDeriver
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg Config, decoder ImageDecoder, c captioner.Captioner, tags TagDeriver, logger *slog.Logger) *Processor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = captioner.DefaultMaxTokens
	}
	return &Processor{
		cfg:       cfg,
		decoder:   decoder,
		captioner: c,
		tags:      tags,
		logger:    logger,
		now:       time.Now,
	}
}

// Process captions the job's image and derives its mood tags. Every error,
// panics included, comes back as a failure result for the same request.
func (p *Processor) Process(ctx context.Context, j job.Job) (res job.Result) {
	jl := p.logger.With("request_id", j.ResultID(), "file_name", j.FileName)

	defer func() {
		if r := recover(); r != nil {
			jl.Error("recovered from panic while processing image", "panic", r)
			res = job.Failed(j.ResultID(), p.cfg.WorkerID, fmt.Errorf("internal error: %v", r), p.now())
		}
	}()

	start := time.Now()
	jl.Info("processing image")

	tags, caption, err := p.analyze(ctx, j)
	if err != nil {
		jl.Error("error processing image", "error", err)
		return job.Failed(j.ResultID(), p.cfg.WorkerID, err, p.now())
	}

	jl.Info("processed image", "tags", len(tags), "duration", time.Since(start))
	return job.Succeeded(j.ResultID(), p.cfg.WorkerID, tags, caption, p.now())
}

func (p *Processor) analyze(ctx context.Context, j job.Job) ([]string, string, error) {
	if err := j.Validate(); err != nil {
		return nil, "", err
	}

	img, err := p.decoder.Decode(j.ImageData)
	if err != nil {
		return nil, "", err
	}

	caption, err := p.captioner.Caption(ctx, imagedata.ToRGB(img), captioner.Instruction, p.cfg.MaxTokens)
	if err != nil {
		return nil, "", fmt.Errorf("caption image: %w", err)
	}

	tags := p.tags.DeriveTags(caption)
	if len(tags) == 0 {
		tags = append([]string(nil), DefaultTags...)
	}
	return tags, caption, nil
}
