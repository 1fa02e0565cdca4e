package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridware/genai-gateway/internal/bootstrap"
	"github.com/gridware/genai-gateway/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[gatewayd] ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	rt, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := rt.Server.Start(addr); err != nil {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigs
	log.Printf("[INFO] received %s, shutting down", sig)

	// Grace covers the worker drain plus a margin for the HTTP listener.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod+10*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		log.Printf("[WARN] shutdown: %v", err)
	}
}
