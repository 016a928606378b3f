package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/discovery"
	"github.com/digster/lan-file-transfer/internal/events"
)

// newPeersCmd creates the 'peers' command: browses for a short window and
// prints every peer found.
func newPeersCmd() *cobra.Command {
	var browseFor time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List peers discovered on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			bus := events.NewBus(0)
			defer bus.Close()

			disco := discovery.New(bus, deviceName, port)
			if err := disco.Start(); err != nil {
				return fmt.Errorf("start discovery: %w", err)
			}
			defer disco.Stop()

			time.Sleep(browseFor)

			peers := disco.Peers()
			if len(peers) == 0 {
				fmt.Println("no peers found")
				return nil
			}
			for _, p := range peers {
				fmt.Printf("%-20s %s:%d\n", p.Name, p.Address, p.Port)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&browseFor, "for", 2*constants.BrowseInterval, "how long to browse before listing results")
	return cmd
}
