package agent

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// watchSignals dumps every wave on SIGQUIT until the agent is unloaded.
func (a *Agent) watchSignals() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopSignals = cancel

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigch:
				a.logger.Info("SIGQUIT received, dumping all waves")
				if err := a.handler.DumpAll(ctx); err != nil {
					a.logger.Error("wave dump failed", zap.Error(err))
				}
			}
		}
	}()
}
