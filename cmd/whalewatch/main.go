package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/ChoSanghyuk/whalewatch/configs"
	"github.com/ChoSanghyuk/whalewatch/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to config.yml")
	envPath := flag.String("env", ".env", "path to the secrets .env file")
	flag.Parse()

	secrets, err := configs.LoadSecrets(*envPath)
	if err != nil {
		log.Fatalf("load secrets: %v", err)
	}

	cfg, err := configs.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Secrets = secrets

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(ctx, cfg)
	if err != nil {
		log.Fatalf("build supervisor: %v", err)
	}
	defer sup.Close()

	log.Printf("whalewatch: tracking %d tokens across %d chains", len(cfg.Tokens), len(cfg.Chains))
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor exited: %v", err)
	}
}
