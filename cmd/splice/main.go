package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	splicehttp "github.com/ligustah/splice/internal/http"
	"github.com/ligustah/splice/internal/pipeline"
	"github.com/ligustah/splice/pkg/sharded"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitSourceNotAccess   = 3
	ExitRangeNotSupported = 4
	ExitStorageError      = 5
	ExitSourceChanged     = 6
	ExitValidationFailed  = 7
	ExitPartialFailure    = 8
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runRun(cmdArgs)
	case "stream":
		return runStream(cmdArgs)
	case "upload":
		return runUpload(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "delete":
		return runDelete(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: splice <command> [options]

Commands:
  run       Transform a file or URL in parallel into an output file
  stream    Transform stdin, a file or a URL into stdout or a file, in order
  upload    Transform a file or URL into a sharded object in object storage
  download  Read a sharded object from object storage into a local file
  validate  Verify all shards exist and sizes match manifest
  delete    Remove a sharded object and all shards from storage

Run 'splice <command> -h' for command-specific help.`)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[splice] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// exitCode maps a pipeline or setup error to the process exit code.
func exitCode(err error) int {
	var (
		stage   *pipeline.StageError
		partial *pipeline.PartialError
		breaker *pipeline.CircuitBreakerError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, splicehttp.ErrRangeNotSupported):
		return ExitRangeNotSupported
	case errors.Is(err, splicehttp.ErrChanged), errors.Is(err, sharded.ErrSizeChanged):
		return ExitSourceChanged
	case errors.As(err, &breaker), errors.As(err, &partial):
		return ExitPartialFailure
	case errors.As(err, &stage) && stage.Stage == "flush":
		return ExitStorageError
	case errors.As(err, &stage) && stage.Stage == "setup":
		return ExitSourceNotAccess
	default:
		return ExitGeneralError
	}
}
