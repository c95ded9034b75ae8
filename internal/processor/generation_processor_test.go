package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/qmuntal/gltf"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/glb"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/utils"
)

const (
	assetURL   = "https://replicate.delivery/out/point_cloud.json"
	pointCloud = `{"coords":[[0,0,0],[1,0,0],[0,1,0]],"colors":[[1,0,0],[0,1,0],[0,0,1]]}`
)

type generationFixture struct {
	store     *memStore
	predictor *fakePredictor
	blobs     *fakeBlobs
	notifier  *fakeNotifier
	proc      *GenerationProcessor
	job       *models.JobPayload
}

func newGenerationFixture(t *testing.T, asset string) *generationFixture {
	t.Helper()
	now := time.Now()
	record := models.NewJob(models.JobKindModel, "a red chair", "conn-1", now)
	payload := record.Payload()

	f := &generationFixture{
		store:     newMemStore(record),
		predictor: &fakePredictor{output: []interface{}{assetURL}},
		blobs:     newFakeBlobs(),
		notifier:  newFakeNotifier(),
		job:       &payload,
	}
	downloader := &fakeDownloader{assets: map[string]*utils.Download{
		assetURL: {Data: []byte(asset), ContentType: "application/json", Name: "point_cloud.json"},
	}}
	framer, err := framing.NewFramer(framing.Config{MaxFragmentChars: 64, Delay: -1})
	if err != nil {
		t.Fatal(err)
	}
	f.proc, err = NewGenerationProcessor(f.store, f.predictor, downloader, f.blobs, f.notifier, GenerationConfig{
		ModelVersion: "point-e",
		Framer:       framer,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *generationFixture) record(t *testing.T) *models.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), f.job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestGenerationCompletes(t *testing.T) {
	f := newGenerationFixture(t, pointCloud)
	if err := f.proc.Process(context.Background(), f.job); err != nil {
		t.Fatal(err)
	}

	job := f.record(t)
	key := "generated-3d/" + f.job.JobID + ".glb"
	if job.Status != models.JobStatusCompleted || job.PredictionID != "pred-1" || !strings.Contains(job.ModelURL, key) {
		t.Errorf("job = %+v", job)
	}
	if f.predictor.version != "point-e" {
		t.Errorf("version = %s", f.predictor.version)
	}
	if f.blobs.contentTypes[key] != GLBContentType {
		t.Errorf("content type = %q", f.blobs.contentTypes[key])
	}

	data, err := framing.Reassemble(f.notifier.frames)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(f.blobs.objects[key]) {
		t.Error("streamed bytes differ from stored object")
	}
	if _, err := glb.ReadHeader(data); err != nil {
		t.Fatal(err)
	}

	// status first, frames next, final link last
	posts := f.notifier.posts
	if n, ok := posts[0].(models.Notification); !ok || n.StatusMessage != MsgGenerating {
		t.Errorf("first post = %+v", posts[0])
	}
	last, ok := posts[len(posts)-1].(models.Notification)
	if !ok || last.FinalModelURL != job.ModelURL {
		t.Errorf("last post = %+v", posts[len(posts)-1])
	}
	if frame, ok := posts[len(posts)-2].(framing.Frame); !ok || !frame.IsCompletion() {
		t.Errorf("completion marker not sent before final link: %+v", posts[len(posts)-2])
	}
}

func TestGenerationSkipTransmit(t *testing.T) {
	f := newGenerationFixture(t, pointCloud)
	f.job.Options.SkipTransmit = true
	if err := f.proc.Process(context.Background(), f.job); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.frames) != 0 {
		t.Errorf("%d frames sent", len(f.notifier.frames))
	}
	if f.record(t).Status != models.JobStatusCompleted {
		t.Error("job not completed")
	}
}

func TestGenerationFailures(t *testing.T) {
	tests := []struct {
		name    string
		asset   string
		setup   func(f *generationFixture)
		wantMsg string
		wantErr error
	}{
		{
			name:    "prediction failed",
			asset:   pointCloud,
			setup:   func(f *generationFixture) { f.predictor.waitErr = &clients.PredictionError{ID: "pred-1", Status: clients.StatusFailed} },
			wantMsg: "Prediction failed or canceled.",
		},
		{
			name:    "empty output",
			asset:   pointCloud,
			setup:   func(f *generationFixture) { f.predictor.output = []interface{}{} },
			wantMsg: "Replicate returned empty list",
			wantErr: clients.ErrEmptyOutputList,
		},
		{
			name:    "download failed",
			asset:   pointCloud,
			setup:   func(f *generationFixture) { f.predictor.output = "https://replicate.delivery/missing.json" },
			wantMsg: MsgDownloadFailed,
		},
		{
			name:    "index overflow",
			asset:   `{"coords":[[0,0,0],[1,0,0],[0,1,0]],"faces":[[0,1,70000]]}`,
			wantMsg: "index overflow",
			wantErr: glb.ErrIndexOverflow,
		},
		{
			name:    "index out of range",
			asset:   `{"coords":[[0,0,0],[1,0,0],[0,1,0]],"faces":[[0,1,5]]}`,
			wantMsg: "invalid mesh data",
			wantErr: glb.ErrInvalidMeshData,
		},
		{
			name:    "upload failed",
			asset:   pointCloud,
			setup:   func(f *generationFixture) { f.blobs.putErr = errors.New("access denied") },
			wantMsg: MsgUploadFailed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newGenerationFixture(t, test.asset)
			if test.setup != nil {
				test.setup(f)
			}

			err := f.proc.Process(context.Background(), f.job)
			if !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("err = %v", err)
			}
			if test.wantErr != nil && !errors.Is(err, test.wantErr) {
				t.Errorf("err = %v, want %v", err, test.wantErr)
			}

			job := f.record(t)
			if job.Status != models.JobStatusFailed || !strings.Contains(job.Error, test.wantMsg) {
				t.Errorf("job = %+v", job)
			}
			notes := f.notifier.notifications()
			if last := notes[len(notes)-1]; last.Error != job.Error {
				t.Errorf("last notification = %+v", last)
			}
			if len(f.notifier.frames) != 0 {
				t.Errorf("%d frames sent for a failed job", len(f.notifier.frames))
			}
		})
	}
}

func TestGenerationTransportFailure(t *testing.T) {
	f := newGenerationFixture(t, pointCloud)
	f.notifier.failAt = 1

	err := f.proc.Process(context.Background(), f.job)
	var transportErr *framing.TransportError
	if !errors.As(err, &transportErr) || transportErr.AtFragment != 1 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Error("transport failure would be retried")
	}

	job := f.record(t)
	if job.Status != models.JobStatusFailed || !strings.HasPrefix(job.Error, MsgTransmitFailed) || job.ModelURL != "" {
		t.Errorf("job = %+v", job)
	}
	if len(f.notifier.frames) != 1 {
		t.Errorf("%d frames delivered, want 1", len(f.notifier.frames))
	}
}

func TestGenerationTruncatesErrors(t *testing.T) {
	f := newGenerationFixture(t, pointCloud)
	f.predictor.createErr = errors.New("Replicate error: " + strings.Repeat("x", 5000))

	if err := f.proc.Process(context.Background(), f.job); err == nil {
		t.Fatal("expected error")
	}
	job := f.record(t)
	if len(job.Error) != models.MaxErrorLength {
		t.Errorf("stored error is %d bytes", len(job.Error))
	}
	notes := f.notifier.notifications()
	if got := notes[len(notes)-1].Error; len(got) != models.MaxErrorLength {
		t.Errorf("sent error is %d bytes", len(got))
	}
}

func TestGenerationClientGone(t *testing.T) {
	f := newGenerationFixture(t, pointCloud)
	f.predictor.waitErr = &clients.PredictionError{ID: "pred-1", Status: clients.StatusCanceled}
	f.notifier.gone = true

	err := f.proc.Process(context.Background(), f.job)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v", err)
	}
	if f.record(t).Status != models.JobStatusFailed {
		t.Error("job not marked failed")
	}
}

func TestGenerationJobOptions(t *testing.T) {
	f := newGenerationFixture(t, `{"coords":[[0,0,0],[1,0,0],[0,1,0]],"faces":[[0,1,2]]}`)
	points := true
	f.job.Options = models.GenerationOptions{ModelVersion: "custom", IndexWidth: "32", PointPrimitives: &points}

	if err := f.proc.Process(context.Background(), f.job); err != nil {
		t.Fatal(err)
	}
	if f.predictor.version != "custom" {
		t.Errorf("version = %s", f.predictor.version)
	}
	data := f.blobs.objects["generated-3d/"+f.job.JobID+".glb"]
	doc, err := glb.ReadMetadata(data)
	if err != nil {
		t.Fatal(err)
	}
	idx := doc.Meshes[0].Primitives[0].Indices
	if idx == nil || doc.Accessors[*idx].ComponentType != gltf.ComponentUint {
		t.Errorf("indices not 32-bit: %+v", doc.Accessors)
	}

	f = newGenerationFixture(t, pointCloud)
	f.job.Options.IndexWidth = "24"
	if err := f.proc.Process(context.Background(), f.job); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v", err)
	}
}

func TestNewGenerationProcessorRequiresVersion(t *testing.T) {
	_, err := NewGenerationProcessor(newMemStore(), &fakePredictor{}, &fakeDownloader{}, newFakeBlobs(), newFakeNotifier(), GenerationConfig{}, nil)
	if err == nil {
		t.Error("missing model version accepted")
	}
}
