package main

import (
	"github.com/joho/godotenv"

	"market-push-bot/internal/cli"
)

func main() {
	// .env is optional; real deployments set MARKETPUSH_* in the environment.
	_ = godotenv.Load()

	cli.Execute()
}
