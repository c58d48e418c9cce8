package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/infra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("feed consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	groupID := os.Getenv("FEED_CONSUMER_GROUP")
	if groupID == "" {
		groupID = "feed-consumer"
	}

	consumer := infra.NewFeedConsumer(cfg.KafkaBrokers, cfg.FeedTopic, groupID, cfg.KafkaEnabled, logger)
	if !consumer.Enabled() {
		return fmt.Errorf("kafka is disabled; set KAFKA_ENABLED=true and KAFKA_BROKERS")
	}
	defer consumer.Close()

	logger.Info("feed-consumer starting", "topic", cfg.FeedTopic, "group", groupID)

	for {
		msg, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("feed-consumer shutting down")
				return nil
			}
			logger.Error("read message failed", "error", err)
			continue
		}

		var event domain.FeedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("malformed feed event",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}

		logger.Info("feed event",
			"event_id", event.EventID,
			"table_id", event.TableID,
			"bet_id", event.BetID,
			"event_type", event.EventType,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
