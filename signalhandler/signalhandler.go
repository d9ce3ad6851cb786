package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SetupHandler returns a context that is cancelled on SIGINT or SIGTERM so long
// running commands can stop their workers and flush state. While the returned
// cancel func has not been called, a second signal exits immediately.
func SetupHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		stop()
		once.Do(func() { close(done) })
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, cancel
}
