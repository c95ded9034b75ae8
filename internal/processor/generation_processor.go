package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/glb"
	"github.com/adverant/nexus/text3d-worker/internal/mesh"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
)

// Messages shown to clients
const (
	MsgGenerating     = "Generating 3D model..."
	MsgDownloadFailed = "Failed to download 3D model"
	MsgDecodeFailed   = "Failed to read 3D model"
	MsgUploadFailed   = "Failed to store 3D model"
	MsgTransmitFailed = "Failed to deliver 3D model"
)

// GLBContentType is the media type of uploaded models
const GLBContentType = "model/gltf-binary"

// GenerationConfig holds the pipeline settings for text-to-3D jobs
type GenerationConfig struct {
	ModelVersion string
	Encoder      glb.Options
	PresignTTL   time.Duration
	Framer       *framing.Framer
}

// GenerationProcessor runs text-to-3D jobs: predict, fetch, encode, store, stream.
type GenerationProcessor struct {
	jobRunner
	predictor  Predictor
	downloader Downloader
	blobs      Blobs
	config     GenerationConfig
}

// NewGenerationProcessor creates a new generation processor
func NewGenerationProcessor(
	store storage.JobStore,
	predictor Predictor,
	downloader Downloader,
	blobs Blobs,
	notifier Notifier,
	config GenerationConfig,
	logger *log.Logger,
) (*GenerationProcessor, error) {
	if config.ModelVersion == "" {
		return nil, fmt.Errorf("model version is required")
	}
	if config.PresignTTL == 0 {
		config.PresignTTL = storage.DefaultPresignTTL
	}
	if config.Framer == nil {
		framer, err := framing.NewFramer(framing.Config{})
		if err != nil {
			return nil, err
		}
		config.Framer = framer
	}

	return &GenerationProcessor{
		jobRunner:  jobRunner{store: store, notifier: notifier, logger: logger},
		predictor:  predictor,
		downloader: downloader,
		blobs:      blobs,
		config:     config,
	}, nil
}

// Process runs one text-to-3D job (main entry point)
func (gp *GenerationProcessor) Process(ctx context.Context, job *models.JobPayload) error {
	startTime := time.Now()
	logger := gp.jobLogger(job.JobID)

	if err := gp.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusProcessing, "", ""); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	gp.sendProgress(ctx, job.JobID, 0, models.JobStatusProcessing, "Starting prediction")
	if err := gp.notifier.Post(ctx, job.ConnectionID, models.Notification{StatusMessage: MsgGenerating, JobID: job.JobID}); err != nil {
		logger.Warn("failed to notify client", "conn", job.ConnectionID, "err", err)
	}

	// Step 1: Run the prediction
	version := gp.config.ModelVersion
	if job.Options.ModelVersion != "" {
		version = job.Options.ModelVersion
	}
	pred, err := gp.predictor.CreatePrediction(ctx, version, job.Prompt)
	if err != nil {
		return gp.fail(ctx, job, err.Error(), err)
	}
	if err := gp.store.SetPredictionID(ctx, job.JobID, pred.ID); err != nil {
		logger.Warn("failed to record prediction id", "prediction", pred.ID, "err", err)
	}
	logger.Info("prediction started", "prediction", pred.ID, "version", version)

	pred, err = gp.predictor.WaitForPrediction(ctx, pred.ID)
	if err != nil {
		return gp.fail(ctx, job, predictionMessage(err), err)
	}
	gp.sendProgress(ctx, job.JobID, 50, models.JobStatusProcessing, "Prediction complete")

	// Step 2: Fetch and decode the output
	outputURL, err := clients.OutputURL(pred.Output)
	if err != nil {
		return gp.fail(ctx, job, err.Error(), err)
	}
	dl, err := gp.downloader.Download(ctx, outputURL)
	if err != nil {
		return gp.fail(ctx, job, MsgDownloadFailed, err)
	}
	m, err := mesh.Decode(dl.Data, dl.ContentType, dl.Name)
	if err != nil {
		return gp.fail(ctx, job, fmt.Sprintf("%s: %v", MsgDecodeFailed, err), err)
	}
	logger.Info("asset decoded", "vertices", m.VertexCount(), "faces", m.FaceCount(), "colors", m.HasColors())

	// Step 3: Encode
	opts, err := gp.encoderOptions(job.Options)
	if err != nil {
		return gp.fail(ctx, job, err.Error(), err)
	}
	data, err := glb.NewEncoder(opts).Encode(m)
	if err != nil {
		return gp.fail(ctx, job, err.Error(), err)
	}
	header, err := glb.ReadHeader(data)
	if err != nil {
		return gp.fail(ctx, job, err.Error(), err)
	}
	logger.Debug("container encoded", "bytes", header.Length, "json", header.JSONLength, "bin", header.BINLength)
	gp.sendProgress(ctx, job.JobID, 70, models.JobStatusProcessing, fmt.Sprintf("Encoded %d bytes", len(data)))

	// Step 4: Store and link
	key := storage.ModelKey(job.JobID)
	if err := gp.blobs.Put(ctx, key, data, GLBContentType); err != nil {
		return gp.fail(ctx, job, MsgUploadFailed, err)
	}
	url, err := gp.blobs.PresignGet(ctx, key, gp.config.PresignTTL)
	if err != nil {
		return gp.fail(ctx, job, MsgUploadFailed, err)
	}

	// Step 5: Stream to the client
	if !job.Options.SkipTransmit {
		sent, err := gp.config.Framer.Transmit(ctx, data, gp.notifier.SenderFor(job.ConnectionID))
		if err != nil {
			return gp.fail(ctx, job, fmt.Sprintf("%s: %v", MsgTransmitFailed, err), err)
		}
		logger.Info("model transmitted", "frames", sent, "bytes", len(data))
	}

	if err := gp.complete(ctx, job, url, models.Notification{FinalModelURL: url}); err != nil {
		return err
	}

	log.Printf("✓ Job %s completed in %s", job.JobID, time.Since(startTime).Round(time.Millisecond))
	return nil
}

func (gp *GenerationProcessor) encoderOptions(o models.GenerationOptions) (glb.Options, error) {
	opts := gp.config.Encoder
	if o.IndexWidth != "" {
		width, err := glb.ParseIndexWidth(o.IndexWidth)
		if err != nil {
			return opts, err
		}
		opts.IndexWidth = width
	}
	if o.PointPrimitives != nil {
		opts.PointPrimitives = *o.PointPrimitives
	}
	return opts, nil
}

func predictionMessage(err error) string {
	var predErr *clients.PredictionError
	if errors.As(err, &predErr) {
		return predErr.Error()
	}
	return fmt.Sprintf("Prediction did not finish: %v", err)
}
