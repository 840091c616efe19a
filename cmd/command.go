// Package cmd provides common command line tools for the letsencrypt-aw
// binary.
package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// FailOnError prints the error with a message and exits non-zero. It returns
// without side effects when err is nil.
func FailOnError(err error, msg string) {
	if err == nil {
		return
	}

	log.Fatalf("[!] %s - %s", msg, err)
}

// SignalContext returns a context that is cancelled on SIGTERM, SIGINT or
// SIGHUP. Cancellation unwinds the renewal flow, which still performs its
// DNS record cleanup.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
}

// EnvOrExit reads a required environment variable and exits non-zero when it
// is unset or empty.
func EnvOrExit(name string) string {
	value := os.Getenv(name)
	if value == "" {
		log.Fatalf("[!] environment variable %q must be set", name)
	}
	return value
}
