package config

import (
	"fmt"
	"os"

	"github.com/Mmx233/TcpFrame/examples"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	force      bool

	Cmd = &cobra.Command{
		Use:   "config",
		Short: "Generate configuration files",
		Args:  cobra.NoArgs,
	}

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Generate server configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTemplate("server", examples.ServerConfig)
		},
	}

	ClientCmd = &cobra.Command{
		Use:   "client",
		Short: "Generate client configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTemplate("client", examples.ClientConfig)
		},
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&outputFile, "config", "c", "config.yaml", "output config file path")
	Cmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	Cmd.AddCommand(ServerCmd)
	Cmd.AddCommand(ClientCmd)
}

func writeTemplate(kind string, load func() ([]byte, error)) error {
	if !force {
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("file already exists: %s", outputFile)
		}
	}

	content, err := load()
	if err != nil {
		return fmt.Errorf("load %s config template: %w", kind, err)
	}
	if err := os.WriteFile(outputFile, content, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	log.Info().Str("com", "generate").Str("file", outputFile).Msgf("generated %s configuration", kind)
	return nil
}
