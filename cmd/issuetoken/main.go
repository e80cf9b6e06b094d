package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	subject := flag.String("subject", "", "Operator name recorded in the token")
	ttl := flag.Duration("ttl", 0, "Token lifetime; defaults to auth.tokenTTL")
	flag.Parse()

	if *subject == "" {
		log.Fatal("-subject is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	authService, err := service.NewAuthService(&cfg.Auth, logger)
	if err != nil {
		log.Fatalf("Failed to set up auth: %v", err)
	}

	token, err := authService.IssueToken(*subject, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("Admin token for %q (SAVE THIS securely!):\n%s\n", *subject, token)
}
