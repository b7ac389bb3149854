package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/modbot/pkg/log"
)

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives or ctx is done,
// then runs callback if it is not nil.
func WaitForInterrupt(ctx context.Context, callback func()) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	log.ApplicationLogger().Info("Received interrupt; executing shutdown callback")

	if callback != nil {
		callback()
	}
}
