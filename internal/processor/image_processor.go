package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
)

// MsgImageGenerated is sent with the image link
const MsgImageGenerated = "Image generated successfully"

// ImageProcessor runs text-to-image jobs
type ImageProcessor struct {
	jobRunner
	generator  ImageGenerator
	blobs      Blobs
	presignTTL time.Duration
}

// NewImageProcessor creates a new image processor
func NewImageProcessor(store storage.JobStore, generator ImageGenerator, blobs Blobs, notifier Notifier, presignTTL time.Duration, logger *log.Logger) *ImageProcessor {
	if presignTTL == 0 {
		presignTTL = storage.DefaultPresignTTL
	}
	return &ImageProcessor{
		jobRunner:  jobRunner{store: store, notifier: notifier, logger: logger},
		generator:  generator,
		blobs:      blobs,
		presignTTL: presignTTL,
	}
}

// Process runs one text-to-image job
func (ip *ImageProcessor) Process(ctx context.Context, job *models.JobPayload) error {
	if err := ip.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusProcessing, "", ""); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	ip.sendProgress(ctx, job.JobID, 0, models.JobStatusProcessing, "Generating image")

	img, err := ip.generator.GenerateImage(ctx, job.Prompt)
	if err != nil {
		return ip.fail(ctx, job, clients.ErrImageGeneration.Error(), err)
	}

	key := storage.ImageKey(job.JobID)
	if err := ip.blobs.Put(ctx, key, img.Data, "image/png"); err != nil {
		return ip.fail(ctx, job, "Failed to store image", err)
	}
	url, err := ip.blobs.PresignGet(ctx, key, ip.presignTTL)
	if err != nil {
		return ip.fail(ctx, job, "Failed to store image", err)
	}

	if err := ip.complete(ctx, job, url, models.Notification{Message: MsgImageGenerated, ImageURL: url}); err != nil {
		return err
	}

	log.Printf("✓ Image job %s completed (%d bytes)", job.JobID, len(img.Data))
	return nil
}
