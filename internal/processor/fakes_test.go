package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/replicate/replicate-go"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
	"github.com/adverant/nexus/text3d-worker/internal/utils"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemStore(jobs ...*models.Job) *memStore {
	s := &memStore{jobs: map[string]*models.Job{}}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *memStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	return nil
}

func (s *memStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg, modelURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	job.Status = status
	if errMsg != "" {
		job.Error = errMsg
	}
	if modelURL != "" {
		job.ModelURL = modelURL
	}
	return nil
}

func (s *memStore) SetPredictionID(ctx context.Context, jobID, predictionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	job.PredictionID = predictionID
	return nil
}

func (s *memStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) Close() error { return nil }

type fakePredictor struct {
	createErr error
	waitErr   error
	output    replicate.PredictionOutput
	version   string
}

func (f *fakePredictor) CreatePrediction(ctx context.Context, version, prompt string) (*replicate.Prediction, error) {
	f.version = version
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &replicate.Prediction{ID: "pred-1", Status: clients.StatusStarting}, nil
}

func (f *fakePredictor) WaitForPrediction(ctx context.Context, id string) (*replicate.Prediction, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	pred := &replicate.Prediction{ID: id, Status: clients.StatusSucceeded}
	pred.Output = f.output
	return pred, nil
}

type fakeDownloader struct {
	assets map[string]*utils.Download
}

func (f *fakeDownloader) Download(ctx context.Context, url string) (*utils.Download, error) {
	if dl, ok := f.assets[url]; ok {
		return dl, nil
	}
	return nil, &utils.HTTPError{StatusCode: 404, Message: "HTTP 404: Not Found"}
}

type fakeBlobs struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = body
	f.contentTypes[key] = contentType
	return nil
}

func (f *fakeBlobs) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://assets.example.com/" + key + "?ttl=" + ttl.String(), nil
}

// fakeNotifier records every message in delivery order
type fakeNotifier struct {
	mu       sync.Mutex
	posts    []interface{}
	frames   []framing.Frame
	progress []models.ProgressUpdate
	failAt   int // frame index that fails, -1 for none
	gone     bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failAt: -1}
}

var errSocketClosed = errors.New("socket closed")

func (f *fakeNotifier) Post(ctx context.Context, connID string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return errSocketClosed
	}
	f.posts = append(f.posts, v)
	return nil
}

func (f *fakeNotifier) SenderFor(connID string) framing.Sender {
	return framing.SenderFunc(func(ctx context.Context, frame framing.Frame) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.frames) == f.failAt {
			return errSocketClosed
		}
		f.frames = append(f.frames, frame)
		f.posts = append(f.posts, frame)
		return nil
	})
}

func (f *fakeNotifier) PublishProgress(ctx context.Context, update models.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, update)
	return nil
}

func (f *fakeNotifier) notifications() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, p := range f.posts {
		if n, ok := p.(models.Notification); ok {
			out = append(out, n)
		}
	}
	return out
}

type fakeImages struct {
	err error
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (*clients.GeneratedImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &clients.GeneratedImage{Data: []byte("\x89PNG" + prompt), ContentType: "image/png"}, nil
}
