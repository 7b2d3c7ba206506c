package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/splice/pkg/sharded"
)

// runDelete removes a sharded object and all its shards from object storage.
// By default prompts for confirmation unless -force is specified.
func runDelete(args []string) int {
	fs := newCommandFlags("delete", flagsBucket,
		`Usage: splice delete [options]

Remove a sharded object and all its shards from object storage.`)
	force := fs.Bool("force", false, "Skip confirmation prompt")
	partial := fs.Bool("partial", false, "Delete the state and shards of an incomplete upload")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := fs.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Bucket == "" || cfg.Object == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	if !*force && !confirm(fmt.Sprintf("Delete sharded object %s from %s? [y/N]: ", cfg.Object, cfg.Bucket)) {
		fmt.Fprintln(os.Stderr, "Cancelled")
		return ExitSuccess
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	if *partial {
		err = sharded.DeletePartial(ctx, bkt, cfg.Object)
	} else {
		err = sharded.Delete(ctx, bkt, cfg.Object)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[splice] Deleted: %s/%s\n", cfg.Bucket, cfg.Object)
	return ExitSuccess
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
