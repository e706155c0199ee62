package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/CrusoO/Rag-knowledge-system/chatservice"
)

func main() {
	// Local development convenience; deployed environments set real env vars.
	_ = godotenv.Load()

	if err := chatservice.Run(); err != nil {
		os.Exit(1)
	}
}
