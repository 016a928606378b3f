// Package cli provides the lantransferd command-line interface: starting the
// background discovery/receive service, sending a file or folder to a
// discovered peer, and listing the peers visible on the local network.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/logging"
	"github.com/digster/lan-file-transfer/internal/transferstate"
)

var (
	port        int
	downloadDir string
	deviceName  string
	statePath   string
	noState     bool
	verbose     bool
	debug       bool

	logger *logging.Logger
)

// Version information, set by the main package at startup.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lantransferd",
		Short: "Zero-configuration LAN file and folder transfer",
		Long: `lantransferd ` + Version + ` - Built: ` + BuildTime + `

Discovers peers on the local network via mDNS and sends files or folders
to them over a chunked, resumable HTTP protocol. No accounts, no servers,
no internet required.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "lantransfer-peer"
	}

	rootCmd.PersistentFlags().IntVar(&port, "port", constants.DefaultPort, "TCP port to listen on and advertise")
	rootCmd.PersistentFlags().StringVar(&downloadDir, "download-dir", transferstate.DefaultDownloadDir(), "directory incoming transfers are written to")
	rootCmd.PersistentFlags().StringVar(&deviceName, "name", hostname, "device name advertised to peers")
	rootCmd.PersistentFlags().StringVar(&statePath, "state-dir", transferstate.DefaultDir(), "directory for the durable transfer-state store")
	rootCmd.PersistentFlags().BoolVar(&noState, "no-state", false, "disable durable cross-restart resumption")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output (same as --verbose)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	return rootCmd
}

// Execute builds the root command, wires every subcommand, and runs it.
func Execute() error {
	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	return rootCmd.Execute()
}

// AddCommands registers every subcommand onto rootCmd.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newPeersCmd())
}

func openStateStore() *transferstate.Store {
	if noState {
		return nil
	}
	store, err := transferstate.Open(statePath)
	if err != nil {
		logger.Warn().Err(err).Msg("durable state store unavailable, continuing without it")
		return nil
	}
	return store
}
