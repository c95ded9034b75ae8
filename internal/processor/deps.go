package processor

import (
	"context"
	"time"

	"github.com/replicate/replicate-go"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/utils"
)

// Predictor runs text-to-3D predictions
type Predictor interface {
	CreatePrediction(ctx context.Context, version, prompt string) (*replicate.Prediction, error)
	WaitForPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

// ImageGenerator runs text-to-image inference
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*clients.GeneratedImage, error)
}

// Downloader fetches prediction output
type Downloader interface {
	Download(ctx context.Context, url string) (*utils.Download, error)
}

// Blobs stores generated assets
type Blobs interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Notifier delivers messages to a client connection
type Notifier interface {
	Post(ctx context.Context, connID string, v interface{}) error
	SenderFor(connID string) framing.Sender
	PublishProgress(ctx context.Context, update models.ProgressUpdate) error
}
