package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	commonlog "media_server/server/common/log"
	mediaapp "media_server/server/media/app"
)

func main() {
	commonlog.SetService("media")
	cfg := mediaapp.LoadConfig()
	server, err := mediaapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize media server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start media http server on :%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run media http server: %v", err)
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- server.RunConsumer(ctx)
	}()

	select {
	case <-ctx.Done():
		if err := <-consumerDone; err != nil {
			commonlog.Errorf("stop media consumer: %v", err)
		}
	case err := <-consumerDone:
		commonlog.Errorf("media consumer exited: %v", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown media server gracefully: %v", err)
	}
}
