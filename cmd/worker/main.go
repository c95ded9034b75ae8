package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/text3d-worker/internal/clients"
	"github.com/adverant/nexus/text3d-worker/internal/config"
	"github.com/adverant/nexus/text3d-worker/internal/connections"
	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/gateway"
	"github.com/adverant/nexus/text3d-worker/internal/glb"
	"github.com/adverant/nexus/text3d-worker/internal/logging"
	"github.com/adverant/nexus/text3d-worker/internal/mesh"
	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/processor"
	"github.com/adverant/nexus/text3d-worker/internal/queue"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
	"github.com/adverant/nexus/text3d-worker/internal/utils"
)

func main() {
	// "standalone" (queue consumer), "gateway" (WebSocket server) or "encode" (stdin -> stdout)
	mode := config.Env("WORKER_MODE", "standalone")

	switch mode {
	case "encode":
		runEncodeMode()
	case "gateway":
		runGatewayMode()
	default:
		runStandaloneMode()
	}
}

// runEncodeMode reads a point cloud or OBJ asset from stdin and writes the
// GLB container to stdout. With ENCODE_OUTPUT=frames the container is
// written as transport frames, one JSON object per line.
func runEncodeMode() {
	logger := logging.Setup(config.Env("LOG_LEVEL", "warn"), "encode")

	cfg, err := config.Load()
	if err != nil {
		sendError(fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		sendError(fmt.Sprintf("Failed to read stdin: %v", err))
		os.Exit(1)
	}

	m, err := mesh.Decode(input, config.Env("ENCODE_CONTENT_TYPE", ""), config.Env("ENCODE_NAME", ""))
	if err != nil {
		sendError(fmt.Sprintf("Failed to decode asset: %v", err))
		os.Exit(1)
	}
	logger.Info("asset decoded", "vertices", m.VertexCount(), "faces", m.FaceCount(), "colors", m.HasColors())

	opts, err := encoderOptions(cfg)
	if err != nil {
		sendError(err.Error())
		os.Exit(1)
	}
	data, err := glb.Encode(m, opts)
	if err != nil {
		sendError(fmt.Sprintf("Failed to encode: %v", err))
		os.Exit(1)
	}

	if config.EnvBool("ENCODE_VERIFY", false) {
		if err := verifyContainer(data); err != nil {
			sendError(fmt.Sprintf("Encoded container failed verification: %v", err))
			os.Exit(1)
		}
		logger.Info("container verified", "bytes", len(data))
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if config.Env("ENCODE_OUTPUT", "glb") != "frames" {
		out.Write(data)
		return
	}

	framer, err := framing.NewFramer(framing.Config{MaxFragmentChars: cfg.FrameMaxChars, Delay: -1})
	if err != nil {
		sendError(err.Error())
		os.Exit(1)
	}
	var sent []framing.Frame
	enc := json.NewEncoder(out)
	_, err = framer.Transmit(context.Background(), data, framing.SenderFunc(func(ctx context.Context, frame framing.Frame) error {
		sent = append(sent, frame)
		return enc.Encode(frame)
	}))
	if err != nil {
		sendError(fmt.Sprintf("Failed to write frames: %v", err))
		os.Exit(1)
	}

	if config.EnvBool("ENCODE_VERIFY", false) {
		payload, err := framing.Reassemble(sent)
		if err != nil || !bytes.Equal(payload, data) {
			out.Flush()
			sendError(fmt.Sprintf("Frames do not reassemble to the container: %v", err))
			os.Exit(1)
		}
		logger.Info("frames verified", "frames", len(sent))
	}
}

// verifyContainer re-reads an encoded container with the glTF decoder
func verifyContainer(data []byte) error {
	if _, err := glb.ReadHeader(data); err != nil {
		return err
	}
	doc, err := glb.ReadMetadata(data)
	if err != nil {
		return err
	}
	if len(doc.Meshes) != 1 || len(doc.Meshes[0].Primitives) != 1 {
		return fmt.Errorf("expected one mesh with one primitive")
	}
	return nil
}

// runStandaloneMode runs the asynq queue consumer
func runStandaloneMode() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel, "worker")
	log.Printf("text3d worker starting...")

	ctx := context.Background()

	// 1. Redis (connection notifications)
	redisClient := connectRedis(ctx, cfg.RedisURL)
	defer redisClient.Close()
	notifier := connections.NewNotifier(redisClient)

	// 2. AWS (asset bucket, optional DynamoDB job table)
	awsClients, err := storage.NewAWSClients(ctx, cfg.AWSRegion, cfg.S3Endpoint)
	if err != nil {
		log.Fatalf("Failed to initialize AWS clients: %v", err)
	}
	blobs := storage.NewBlobStore(awsClients.S3, cfg.S3Bucket)
	log.Printf("✓ Asset bucket configured (%s)", cfg.S3Bucket)

	// 3. Job store
	jobStore, err := openJobStore(ctx, cfg, awsClients)
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}
	defer jobStore.Close()

	// 4. Prediction and inference clients
	replicateClient, err := clients.NewReplicateClient(clients.ReplicateConfig{
		Token:         cfg.ReplicateToken,
		BaseURL:       cfg.ReplicateBaseURL,
		PollInterval:  cfg.PollInterval,
		Timeout:       cfg.PredictionTimeout,
		MaxPollErrors: cfg.MaxPollErrors,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Replicate client: %v", err)
	}
	if cfg.ReplicateToken == "" {
		log.Printf("WARNING: REPLICATE_API_KEY is not set")
	}
	log.Printf("✓ Replicate client initialized (model %s)", cfg.ModelVersion)
	imageClient := clients.NewHuggingFaceClient(cfg.ImageModelURL, cfg.HFToken, 0)

	// 5. Processors
	framer, err := framing.NewFramer(framing.Config{MaxFragmentChars: cfg.FrameMaxChars, Delay: cfg.FrameDelay})
	if err != nil {
		log.Fatalf("Invalid framing config: %v", err)
	}
	encoderOpts, err := encoderOptions(cfg)
	if err != nil {
		log.Fatalf("Invalid encoder config: %v", err)
	}
	downloader := utils.NewHTTPDownloader(&utils.HTTPDownloaderConfig{MaxFileSize: cfg.MaxAssetSize})

	generation, err := processor.NewGenerationProcessor(jobStore, replicateClient, downloader, blobs, notifier, processor.GenerationConfig{
		ModelVersion: cfg.ModelVersion,
		Encoder:      encoderOpts,
		PresignTTL:   cfg.PresignTTL,
		Framer:       framer,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize generation processor: %v", err)
	}
	images := processor.NewImageProcessor(jobStore, imageClient, blobs, notifier, cfg.PresignTTL, logger)
	log.Printf("✓ Processors initialized (index width %s, %d chars per frame)", encoderOpts.IndexWidth, framer.MaxFragmentChars())

	// 6. Queue consumer
	queueConsumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Generation:  generation,
		Image:       images,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}
	log.Printf("✓ Queue consumer initialized")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := queueConsumer.Start(); err != nil {
			errChan <- err
		}
	}()

	log.Printf("✓ text3d worker ready - waiting for jobs...")
	log.Printf("  - Concurrency: %d workers", cfg.WorkerConcurrency)
	log.Printf("  - Job store: %s", cfg.JobStore)

	select {
	case <-sigChan:
		log.Printf("Shutdown signal received, stopping gracefully...")
		queueConsumer.Stop()
	case err := <-errChan:
		log.Fatalf("Worker error: %v", err)
	}

	log.Printf("text3d worker stopped")
}

// runGatewayMode serves client WebSockets and enqueues their jobs
func runGatewayMode() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel, "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx, cfg.RedisURL)
	defer redisClient.Close()

	var awsClients *storage.AWSClients
	if cfg.JobStore == "dynamodb" {
		if awsClients, err = storage.NewAWSClients(ctx, cfg.AWSRegion, cfg.S3Endpoint); err != nil {
			log.Fatalf("Failed to initialize AWS clients: %v", err)
		}
	}
	jobStore, err := openJobStore(ctx, cfg, awsClients)
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}
	defer jobStore.Close()

	producer, err := queue.NewProducer(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize queue producer: %v", err)
	}
	defer producer.Close()

	notifier := connections.NewNotifier(redisClient)
	sub := notifier.Subscribe(ctx)
	defer sub.Close()
	hub := gateway.NewHub(sub)
	go hub.Run(ctx)

	server := gateway.NewServer(hub, connections.NewRegistry(redisClient, cfg.ConnectionTTL), jobStore, producer, logger)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
	log.Printf("text3d gateway stopped")
}

func connectRedis(ctx context.Context, url string) *redis.Client {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Printf("✓ Redis connection established")
	return redisClient
}

func openJobStore(ctx context.Context, cfg models.Config, awsClients *storage.AWSClients) (storage.JobStore, error) {
	if cfg.JobStore == "dynamodb" {
		if awsClients == nil {
			return nil, fmt.Errorf("dynamodb job store requires AWS clients")
		}
		log.Printf("✓ Job store initialized (DynamoDB table %s)", cfg.DynamoTable)
		return storage.NewDynamoJobStore(awsClients.DynamoDB, cfg.DynamoTable), nil
	}

	store, err := storage.NewPostgresJobStore(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	log.Printf("✓ Job store initialized (PostgreSQL)")
	return store, nil
}

func encoderOptions(cfg models.Config) (glb.Options, error) {
	width, err := glb.ParseIndexWidth(cfg.GLBIndexWidth)
	if err != nil {
		return glb.Options{}, fmt.Errorf("invalid GLB_INDEX_WIDTH: %w", err)
	}
	return glb.Options{IndexWidth: width, PointPrimitives: cfg.GLBPointPrims}, nil
}

// sendError writes an error response to stdout as JSON
func sendError(message string) {
	errorResponse := map[string]interface{}{
		"error":   message,
		"success": false,
	}
	errorJSON, _ := json.Marshal(errorResponse)
	fmt.Println(string(errorJSON))
}
