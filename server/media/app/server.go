package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "media_server/server/common/auth"
	"media_server/server/common/events"
	"media_server/server/common/infra/cache"
	"media_server/server/common/infra/db"
	"media_server/server/common/infra/mq"
	"media_server/server/common/infra/object"
	commonlog "media_server/server/common/log"
	"media_server/server/media/api"
	"media_server/server/media/repository"
	"media_server/server/media/service"
)

type Server struct {
	HTTPServer *http.Server
	Consumer   *mq.Consumer
	Publisher  *mq.Publisher
	StatusHub  *service.StatusHub
	MQConn     *amqp.Connection
	Redis      *redis.Client
	DB         *pgxpool.Pool
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authSvc, err := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	if err != nil {
		return nil, fmt.Errorf("initialize auth: %w", err)
	}

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		return nil, err
	}
	s := &Server{}
	s.DB, err = db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	store, err := object.Open(ctx, cfg.Minio)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("initialize minio: %w", err)
	}

	s.Redis = cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, s.Redis); err != nil {
		s.closeConnections()
		return nil, err
	}

	s.MQConn, err = mq.NewConnection(cfg.AMQPURL)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("initialize amqp: %w", err)
	}
	s.Publisher, err = mq.NewPublisher(s.MQConn, events.Exchange)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("initialize amqp publisher: %w", err)
	}
	consumeCh, err := s.MQConn.Channel()
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	topology := mq.Topology{
		Exchange:      events.Exchange,
		Queue:         cfg.Queue,
		BindingKeys:   cfg.BindingKeys,
		MaxDeliveries: cfg.MaxDeliveries,
	}
	if err := mq.DeclareTopology(consumeCh, topology); err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	records := repository.NewMediaRepository(s.DB)
	s.StatusHub = service.NewStatusHub(s.Redis, cfg.WSAllowedOrigins)
	uploads := service.NewUploadService(store, records, s.Publisher)
	reconciler := service.NewReconciler(records, s.StatusHub)

	s.Consumer = mq.NewConsumer(consumeCh, mq.ConsumerConfig{
		Queue:         cfg.Queue,
		Tag:           consumerTag(cfg.Queue),
		Workers:       cfg.Workers,
		MaxDeliveries: cfg.MaxDeliveries,
		DrainTimeout:  cfg.DrainTimeout,
	}, reconciler.Handle)

	h := api.NewHandler(uploads, authSvc, s.StatusHub.HandleWS, cfg.UploadMaxBytes)
	r := gin.Default()
	h.RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	commonlog.Infof("event=media_init status=ok queue=%s bindings=%v workers=%d upload_max_bytes=%d", cfg.Queue, cfg.BindingKeys, cfg.Workers, cfg.UploadMaxBytes)
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
	s.StatusHub.Close()
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
	if s.DB != nil {
		s.DB.Close()
	}
}

func consumerTag(queue string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", queue, host, os.Getpid())
}
