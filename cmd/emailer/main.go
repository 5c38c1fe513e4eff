package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emailer: %v\n", err)
		os.Exit(1)
	}
}
