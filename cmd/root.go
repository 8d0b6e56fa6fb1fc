package cmd

import (
	"fmt"

	"github.com/Mmx233/TcpFrame/cmd/generate"
	"github.com/Mmx233/TcpFrame/cmd/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"

	showVersion bool
	debug       bool

	rootCmd = &cobra.Command{
		Use:   "tcpframe",
		Short: "Length-prefixed framed messaging over TCP, TLS and QUIC",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			SetLogLevel()
		},
		Run: func(cmd *cobra.Command, args []string) {
			if showVersion {
				fmt.Println(Version)
				return
			}
			_ = cmd.Help()
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("failed to execute")
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Print version information")
	rootCmd.AddCommand(run.Cmd)
	rootCmd.AddCommand(generate.Cmd)
}

// SetLogLevel sets the global log level from the debug flag.
func SetLogLevel() {
	if debug {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
