// Command process-data loads the disaster messages and categories files,
// cleans the merged table and saves it to a relational store.
//
//	process-data [flags] <messages.csv> <categories.csv> <destination> <table>
//
// Destination is a SQLite file path or a postgres://, sqlserver:// or
// mysql:// URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"

	// register all backends with the storage factory.
	_ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/all"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(etlerr.ExitPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
