package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"media_server/server/common/events"
	"media_server/server/common/infra/cache"
	"media_server/server/common/infra/mq"
	"media_server/server/common/infra/object"
	commonlog "media_server/server/common/log"
	"media_server/server/common/transport/httpresp"
	"media_server/server/compressor/service"
	"media_server/server/compressor/transcode"
)

type Server struct {
	HTTPServer *http.Server
	Consumer   *mq.Consumer
	Publisher  *mq.Publisher
	MQConn     *amqp.Connection
	Redis      *redis.Client
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := object.Open(ctx, cfg.Minio)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, redisClient); err != nil {
		return nil, err
	}

	mqConn, err := mq.NewConnection(cfg.AMQPURL)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("initialize amqp: %w", err)
	}
	s := &Server{MQConn: mqConn, Redis: redisClient}

	s.Publisher, err = mq.NewPublisher(mqConn, events.Exchange)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("initialize amqp publisher: %w", err)
	}

	consumeCh, err := mqConn.Channel()
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	topology := mq.Topology{
		Exchange:      events.Exchange,
		Queue:         cfg.Queue,
		BindingKeys:   []string{events.RoutingKeyUploaded},
		MaxDeliveries: cfg.MaxDeliveries,
	}
	if err := mq.DeclareTopology(consumeCh, topology); err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	worker := service.NewWorker(
		store,
		s.Publisher,
		transcode.New(cfg.Transcode),
		cache.NewProcessedMarkers(redisClient, cfg.ProcessedMarkerTTL, cfg.ProcessedClaimTTL),
		cfg.ThresholdBytes,
	)
	s.Consumer = mq.NewConsumer(consumeCh, mq.ConsumerConfig{
		Queue:         cfg.Queue,
		Tag:           consumerTag(cfg.Queue),
		Workers:       cfg.Workers,
		MaxDeliveries: cfg.MaxDeliveries,
		DrainTimeout:  cfg.DrainTimeout,
	}, worker.Handle)

	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.NewStatusResponse("ok"))
	})
	s.HTTPServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	commonlog.Infof("event=compressor_init status=ok queue=%s workers=%d threshold_bytes=%d target_width=%d", cfg.Queue, cfg.Workers, cfg.ThresholdBytes, cfg.Transcode.TargetWidth)
	return s, nil
}

// RunConsumer blocks until ctx is canceled and in-flight deliveries drained.
func (s *Server) RunConsumer(ctx context.Context) error {
	err := s.Consumer.Run(ctx)
	if errors.Is(err, mq.ErrDeliveriesClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.closeConnections()
	return err
}

func (s *Server) closeConnections() {
	if s.Publisher != nil {
		_ = s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

func consumerTag(queue string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", queue, host, os.Getpid())
}
