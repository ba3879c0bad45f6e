package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/cli/askdb"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := askdb.Execute(ctx, os.Args[1:], askdb.Deps{
		Out:     os.Stdout,
		Err:     os.Stderr,
		Version: version,
	})
	stop()
	os.Exit(code)
}
