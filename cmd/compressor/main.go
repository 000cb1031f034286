package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	commonlog "media_server/server/common/log"
	compressorapp "media_server/server/compressor/app"
)

func main() {
	commonlog.SetService("compressor")
	cfg := compressorapp.LoadConfig()
	server, err := compressorapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize compressor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start compressor health server on :%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run compressor health server: %v", err)
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- server.RunConsumer(ctx)
	}()

	select {
	case <-ctx.Done():
		if err := <-consumerDone; err != nil {
			commonlog.Errorf("stop compressor consumer: %v", err)
		}
	case err := <-consumerDone:
		commonlog.Errorf("compressor consumer exited: %v", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown compressor gracefully: %v", err)
	}
}
