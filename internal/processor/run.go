package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// plan holds the type-specific part of a job execution.
type plan struct {
	processingPercent int
	processingMessage string
	execute           func(ctx context.Context, gen model.Generation) (outcome, error)
}

// outcome is what a provider step produced.
type outcome struct {
	image  *model.ImageOutput
	aspect model.AspectRatio
	copy   string
	// userTurns are appended to the conversation before the model's reply turn.
	userTurns         []model.Turn
	resetConversation bool
	incrementEdit     bool
}

// run executes the shared envelope around p's provider step.
func (p *Processor) run(ctx context.Context, job model.Job, rep Reporter, pl plan) model.JobResult {
	started := p.now()
	log := p.log.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type())).
		Int64("generation_id", job.GenerationID).
		Int("attempt", job.Attempt()).
		Logger()
	t := newTracker(job.ID, rep, p.now, log)

	t.report(model.StageStarting, 0, "Starting job")

	if _, err := p.generations.Get(ctx, job.GenerationID); err != nil {
		if errors.Is(err, model.ErrGenerationNotFound) {
			return model.FailedResult(job, model.Permanent(model.ErrGenerationNotFound), started, p.now())
		}
		return model.FailedResult(job, err, started, p.now())
	}

	gen, err := p.markProcessing(ctx, job)
	if err != nil {
		if errors.Is(err, model.ErrTerminalState) {
			log.Info().Str("status", string(gen.Status)).Msg("generation already finished by this job, skipping execution")
			return gen.Result(job, p.now())
		}
		return model.FailedResult(job, err, started, p.now())
	}

	t.report(model.StageProcessing, pl.processingPercent, pl.processingMessage)

	out, err := pl.execute(ctx, gen)
	if err != nil {
		return p.fail(ctx, job, err, started)
	}

	update := model.GenerationUpdate{
		ResetConversation:  out.resetConversation,
		IncrementEditCount: out.incrementEdit,
		AppendTurns:        out.userTurns,
	}

	var artifact model.Artifact
	if out.image != nil {
		t.report(model.StageUploading, 80, "Uploading image")

		artifact, err = p.store(ctx, *out.image, out.aspect)
		if err != nil {
			return p.fail(ctx, job, err, started)
		}

		update.ImageURL = artifact.URL
		update.StorageID = artifact.StorageID
		update.AppendTurns = append(update.AppendTurns, model.Turn{
			Role:      "model",
			Text:      out.image.Text,
			ImageURLs: []string{artifact.URL},
		})
	} else {
		update.CopyText = out.copy
	}

	t.report(model.StageFinalizing, 95, "Saving result")

	if err := p.markCompleted(ctx, job, update); err != nil {
		return p.fail(ctx, job, err, started)
	}

	t.report(model.StageFinalizing, 100, "Completed")

	log.Info().Msg("job completed")

	if out.image != nil {
		return model.CompletedImage(job, artifact, started, p.now())
	}
	return model.CompletedCopy(job, out.copy, started, p.now())
}

// store post-processes and uploads an image.
func (p *Processor) store(ctx context.Context, img model.ImageOutput, aspect model.AspectRatio) (model.Artifact, error) {
	data, contentType := img.Data, img.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}

	if p.post != nil {
		var err error
		data, contentType, err = p.post.Process(data, contentType, aspect)
		if err != nil {
			return model.Artifact{}, fmt.Errorf("post-process image: %w", err)
		}
	}

	artifact, err := p.artifacts.Upload(ctx, data, contentType)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to upload image: %w", err)
	}

	return artifact, nil
}

// fail records the failure on the generation and builds the failed result.
func (p *Processor) fail(ctx context.Context, job model.Job, cause error, started time.Time) model.JobResult {
	p.MarkFailed(ctx, job, cause.Error())
	return model.FailedResult(job, cause, started, p.now())
}
