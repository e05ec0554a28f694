package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; config and BOOKCHAT_ env vars are the real source of truth
	_ = godotenv.Load()

	root := &cobra.Command{Use: "bookchat"}
	root.AddCommand(serveCMD(), migrateCMD(), ingestCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
