package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arnabghosh/delayed-queue/internal/cmd/client"
)

const defaultServer = "http://localhost:8080"

func main() {
	server := os.Getenv("DELAYQUEUE_SERVER")
	if server == "" {
		server = defaultServer
	}

	root := client.NewRoot(func() string { return server })
	root.PersistentFlags().StringVarP(&server, "server", "s", server, "Delayed queue API base URL (env DELAYQUEUE_SERVER)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
