package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vidmirror/backend/internal/app"
)

const usage = `usage: vidmirror <command> [args]

commands:
  serve                 run the HTTP server and ingestion workers
  migrate [up|status]   apply or list SQL migrations
  seed <name>           apply seeds/<name>_seed.sql
  grant -user-id ID -username NAME -token T [-secret S] [-role member|staff|admin]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
