package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/CrusoO/Rag-knowledge-system/docworker"
)

func main() {
	_ = godotenv.Load()

	if err := docworker.Run(); err != nil {
		os.Exit(1)
	}
}
