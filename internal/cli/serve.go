package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digster/lan-file-transfer/internal/discovery"
	"github.com/digster/lan-file-transfer/internal/events"
	"github.com/digster/lan-file-transfer/internal/transfer"
)

// newServeCmd creates the 'serve' command: a foreground daemon advertising
// this device, receiving incoming transfers, and logging queue activity
// until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Advertise this device and receive incoming transfers",
		Long: `Runs in the foreground: advertises this device over mDNS, listens for
incoming transfers, and logs queue activity until interrupted with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus := events.NewBus(0)
			defer bus.Close()

			disco := discovery.New(bus, deviceName, port)
			if err := disco.Start(); err != nil {
				return fmt.Errorf("start discovery: %w", err)
			}
			defer disco.Stop()

			mgr := transfer.New(bus, downloadDir, port, openStateStore())
			if err := mgr.Start(); err != nil {
				return fmt.Errorf("start transfer manager: %w", err)
			}
			defer mgr.Stop()

			logger.Info().Str("name", deviceName).Int("port", port).Str("download_dir", downloadDir).Msg("serving")

			sub := bus.SubscribeAll()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case ev := <-sub:
					logEvent(ev)
				case <-sigCh:
					logger.Info().Msg("shutting down")
					return nil
				}
			}
		},
	}
}

func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.PeerEvent:
		logger.Info().Str("peer", e.Name).Str("address", e.Address).Msg(string(e.Type()))
	case events.TransferEvent:
		logger.Info().Str("queue_id", e.QueueID).Str("file", e.Name).Msg(string(e.Type()))
	}
}
