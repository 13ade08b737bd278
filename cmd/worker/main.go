package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/metrics"
	"github.com/OFFIS-RIT/batchgraph/internal/queue"
	"github.com/OFFIS-RIT/batchgraph/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/batchgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
	pgxstore "github.com/OFFIS-RIT/batchgraph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	cfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		logger.Fatal("Invalid pipeline configuration", "err", err)
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	repo, err := pgxstore.NewGraphDBStorageWithConnection(ctx, pgConn,
		pgxstore.WithChunkSize(cfg.WriteChunkSize),
		pgxstore.WithParallelWrites(cfg.ConsolidateParallel),
	)
	if err != nil {
		logger.Fatal("Unable to create graph storage", "err", err)
	}

	m := metrics.New()
	runner, err := pipeline.NewRunner(pipeline.Params{
		Repo:     repo,
		Locker:   leaselock.New(pgConn),
		Config:   cfg,
		Recorder: m,
	})
	if err != nil {
		logger.Fatal("Unable to create pipeline runner", "err", err)
	}

	metricsAddr := util.GetEnvString("METRICS_ADDR", ":9090")
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	processor := queue.NewProcessor(queue.ProcessorParams{
		Runner:    runner,
		Resources: repo,
		Publisher: ch,
		Chain:     util.GetEnvBool("CHAIN_PHASES", true),
	})

	// A single consumer channel with a shared prefetch of one keeps phases of
	// the same run from overlapping on this worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			msgs, err := consumerCh.Consume(
				qName,
				fmt.Sprintf("%s_consumer", qName),
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "queues", queue.Queues)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				if err := processor.ProcessPhaseMessage(ctx, qm.msg.Body); err != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", err)
					result := queue.HandleProcessingError(ctx, ch, qm.msg, qm.queueName)
					m.QueueMessage(qm.queueName, result)
					continue
				}

				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				m.QueueMessage(qm.queueName, "ack")
				logger.Info("Message processed successfully",
					"queue", qm.queueName, "duration", time.Since(startTime).Round(time.Millisecond))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown metrics server", "err", err)
	}
}
