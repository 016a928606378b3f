package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digster/lan-file-transfer/internal/discovery"
	"github.com/digster/lan-file-transfer/internal/events"
	"github.com/digster/lan-file-transfer/internal/progress"
	"github.com/digster/lan-file-transfer/internal/transfer"
	"github.com/digster/lan-file-transfer/internal/txtype"
)

// newSendCmd creates the 'send' command.
func newSendCmd() *cobra.Command {
	var discoverTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <path> <peer-name>",
		Short: "Send a file or folder to a peer discovered on the local network",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, peerName := args[0], args[1]

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info().Msg("cancelling on interrupt")
				cancel()
			}()

			bus := events.NewBus(0)
			defer bus.Close()

			disco := discovery.New(bus, deviceName, port)
			if err := disco.Start(); err != nil {
				return fmt.Errorf("start discovery: %w", err)
			}
			defer disco.Stop()

			peer, err := waitForPeer(ctx, disco, peerName, discoverTimeout)
			if err != nil {
				return err
			}

			mgr := transfer.New(bus, downloadDir, port, openStateStore())
			if err := mgr.Start(); err != nil {
				return fmt.Errorf("start transfer manager: %w", err)
			}
			defer mgr.Stop()

			peerURL := fmt.Sprintf("http://%s:%d", peer.Address, peer.Port)
			queueID, err := mgr.QueueSend(path, peerURL, peer.Name)
			if err != nil {
				return fmt.Errorf("queue send: %w", err)
			}

			return watchSend(ctx, mgr, queueID, path)
		},
	}

	cmd.Flags().DurationVar(&discoverTimeout, "discover-timeout", 10*time.Second, "how long to wait for the named peer to appear")
	return cmd
}

func waitForPeer(ctx context.Context, disco *discovery.Service, name string, timeout time.Duration) (discovery.Peer, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, p := range disco.Peers() {
			if p.Name == name {
				return p, nil
			}
		}
		if time.Now().After(deadline) {
			return discovery.Peer{}, fmt.Errorf("peer %q not found within %s", name, timeout)
		}
		select {
		case <-ctx.Done():
			return discovery.Peer{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func watchSend(ctx context.Context, mgr *transfer.Manager, queueID, path string) error {
	ui := progress.New()
	var bar progress.BarHandle

	for {
		entry, ok := mgr.Queue().Get(queueID)
		if !ok {
			return fmt.Errorf("queue entry %s vanished", queueID)
		}
		if bar == nil {
			bar = ui.AddBar(queueID, "→", path, entry.TotalSize)
		}
		bar.SetTransferred(entry.Transferred)
		bar.SetSpeed(entry.Speed)
		if entry.Status == txtype.StatusRetrying {
			bar.SetStatus("retrying")
		}

		if entry.Status.IsTerminal() {
			var err error
			if entry.Status == txtype.StatusFailed {
				err = fmt.Errorf("%s", entry.Error)
			} else if entry.Status == txtype.StatusCancelled {
				err = fmt.Errorf("cancelled")
			}
			bar.Complete(err)
			ui.Wait()
			if err != nil {
				return err
			}
			return nil
		}

		select {
		case <-ctx.Done():
			mgr.CancelTransfer(queueID)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
