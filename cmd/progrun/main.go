package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/progrunhq/progrun/internal/execution"
	"github.com/progrunhq/progrun/internal/filestore"
	"github.com/progrunhq/progrun/internal/interaction"
	"github.com/progrunhq/progrun/internal/janitor"
	"github.com/progrunhq/progrun/internal/platform/cache"
	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/messaging/kafka"
	"github.com/progrunhq/progrun/internal/platform/metrics"
	"github.com/progrunhq/progrun/internal/platform/telemetry"
	programrepo "github.com/progrunhq/progrun/internal/program/repository"
	"github.com/progrunhq/progrun/internal/runner"
	"github.com/progrunhq/progrun/internal/sandbox"
	"github.com/progrunhq/progrun/internal/server"
	"github.com/progrunhq/progrun/internal/stream"
	"github.com/progrunhq/progrun/internal/supervise"
	"github.com/progrunhq/progrun/internal/taskqueue"
	"github.com/progrunhq/progrun/internal/workflow"
	workflowrepo "github.com/progrunhq/progrun/internal/workflow/repository"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load("progrun")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.Logger)
	log.Info("Starting progrun", "version", cfg.Version, "port", cfg.HTTP.Port)

	// Initialize telemetry
	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Service.Name,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}
	defer tel.Close()

	met := metrics.New("progrun")

	// Persistence: Mongo for records, Postgres for the execution archive.
	// Both fall back gracefully so the service runs standalone.
	programs, versions, components, executions, workflows, workflowExecutions, mongoClient := buildRepositories(cfg, log)
	if mongoClient != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Disconnect(ctx)
		}()
	}

	var archive programrepo.ExecutionArchive
	if cfg.Database.PostgresDSN != "" {
		db, err := openPostgres(cfg.Database)
		if err != nil {
			log.Warn("postgres unavailable, execution archiving disabled", "error", err)
		} else {
			defer db.Close()
			archive = programrepo.NewPostgresExecutionArchive(db)
		}
	}

	store, err := buildFileStore(cfg.Sandbox)
	if err != nil {
		log.Fatal("failed to initialize file store", "error", err)
	}

	// Event export
	var publisher *kafka.EventPublisher
	if cfg.Kafka.Enabled {
		publisher, err = kafka.NewEventPublisher(&kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, log)
		if err != nil {
			log.Fatal("failed to initialize kafka publisher", "error", err)
		}
		defer publisher.Close()
	}

	// Task queue: Redis when reachable, in-process otherwise
	queue, redisQueue := buildQueue(cfg, log)
	pool := taskqueue.NewPool(queue, cfg.Execution.MaxConcurrent, log, met)

	// Node output cache shares the Redis instance with the queue and
	// degrades to in-process storage without it
	var outputCache cache.Cache
	if redisQueue != nil {
		redisCache, err := cache.NewRedis(cache.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "progrun:outputs",
		}, log)
		if err != nil {
			log.Warn("redis output cache unavailable, using in-process cache", "error", err)
		} else {
			outputCache = redisCache
			defer redisCache.Close()
		}
	}
	if outputCache == nil {
		outputCache = cache.NewMemory()
	}

	// Streaming hub
	hub := stream.NewHub(cfg.Streaming, log, met)

	// Execution pipeline
	materializer := sandbox.NewMaterializer(store, cfg.Sandbox.Root, log)
	runners := buildRunners(cfg.Runner)
	supervisor := supervise.NewSupervisor(log)

	executionService := execution.NewService(execution.Deps{
		Config:       cfg.Execution,
		Programs:     programs,
		Versions:     versions,
		Components:   components,
		Executions:   executions,
		Archive:      archive,
		Store:        store,
		Materializer: materializer,
		Runners:      runners,
		Supervisor:   supervisor,
		Hub:          hub,
		Pool:         pool,
		Publisher:    eventPublisher(publisher),
		Logger:       log,
		Metrics:      met,
	})

	// Workflow engine. Executions arrive through the task queue;
	// NewEngine registers the handler on the pool.
	interactions := interaction.NewManager(cfg.Workflow.InteractionTimeout, eventPublisher(publisher), log, met)
	workflow.NewEngine(workflow.EngineDeps{
		Config:     cfg.Workflow,
		Retry:      cfg.Retry,
		Workflows:  workflows,
		Executions: workflowExecutions,
		Programs:   execution.NewProgramRunnerAdapter(executionService),
		UI:         interaction.NewBroker(interactions),
		Publisher:  eventPublisher(publisher),
		Pool:       pool,
		Cache:      outputCache,
		Logger:     log,
		Metrics:    met,
	})

	pool.Start()
	defer pool.Stop()

	// Housekeeping
	jan := janitor.New(hub, interactions, redisQueue, cfg.Sandbox.Root, log)
	if err := jan.Start(); err != nil {
		log.Fatal("failed to start janitor", "error", err)
	}
	defer jan.Stop()

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithMetrics(met),
		server.WithHub(hub),
		server.WithExecutionService(executionService),
	)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("progrun stopped gracefully")
}

// buildRepositories connects to Mongo, falling back to in-memory
// repositories when it is unreachable.
func buildRepositories(cfg *config.Config, log logger.Logger) (
	programrepo.ProgramRepository,
	programrepo.VersionRepository,
	programrepo.ComponentRepository,
	programrepo.ExecutionRepository,
	workflowrepo.WorkflowRepository,
	workflowrepo.WorkflowExecutionRepository,
	*mongo.Client,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Database.MongoURI))
	if err == nil {
		err = client.Ping(ctx, nil)
	}
	if err != nil {
		log.Warn("mongo unavailable, using in-memory repositories", "error", err)
		return programrepo.NewInMemoryProgramRepository(),
			programrepo.NewInMemoryVersionRepository(),
			programrepo.NewInMemoryComponentRepository(),
			programrepo.NewInMemoryExecutionRepository(),
			workflowrepo.NewInMemoryWorkflowRepository(),
			workflowrepo.NewInMemoryWorkflowExecutionRepository(),
			nil
	}

	db := client.Database(cfg.Database.MongoDatabase)
	return programrepo.NewMongoProgramRepository(db),
		programrepo.NewMongoVersionRepository(db),
		programrepo.NewMongoComponentRepository(db),
		programrepo.NewMongoExecutionRepository(db),
		workflowrepo.NewMongoWorkflowRepository(db),
		workflowrepo.NewMongoWorkflowExecutionRepository(db),
		client
}

func openPostgres(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildFileStore(cfg config.SandboxConfig) (filestore.Store, error) {
	if cfg.StorageBackend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return filestore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	}
	return filestore.NewLocalStore(cfg.StorageRoot)
}

func buildQueue(cfg *config.Config, log logger.Logger) (taskqueue.Queue, *taskqueue.RedisQueue) {
	redisQueue, err := taskqueue.NewRedisQueue(&taskqueue.RedisQueueConfig{
		Addr:      cfg.Redis.Addr(),
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		QueueName: cfg.Redis.QueueName,
	})
	if err != nil {
		log.Warn("redis unavailable, using in-process task queue", "error", err)
		return taskqueue.NewMemoryQueue(cfg.Execution.QueueDepth), nil
	}
	return redisQueue, redisQueue
}

func buildRunners(cfg config.RunnerConfig) *runner.Registry {
	registry := runner.NewRegistry()
	for _, lang := range cfg.SupportedLanguages {
		switch lang {
		case "python":
			registry.Register(runner.NewPythonRunner(cfg))
		case "nodejs":
			registry.Register(runner.NewNodeJsRunner(cfg))
		case "java":
			registry.Register(runner.NewJavaRunner(cfg))
		case "csharp":
			registry.Register(runner.NewCSharpRunner(cfg))
		}
	}
	return registry
}

// eventPublisher avoids handing services a non-nil interface wrapping a
// nil publisher.
func eventPublisher(p *kafka.EventPublisher) execution.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
