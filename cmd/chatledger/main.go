package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"chatledger/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional, env overrides)")
	flag.Parse()

	ctx := context.Background()
	app, err := appbootstrap.Compose(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatledger: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chatledger: %v\n", err)
		os.Exit(1)
	}
}
