package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code. The outer
// failure is logged while the error file is still open.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	defer a.close()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Errorf("Failed to complete the model registration process: %v", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
