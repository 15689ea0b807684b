// Command jobpool runs a pool of recurring jobs gated by persisted
// timestamps. Call "jobpool run" from cron, or keep "jobpool serve" running.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jobpool/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root := rootCmd(app.New)
	err := root.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
