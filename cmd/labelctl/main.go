// Command labelctl holds the operator and device-side tools for the label
// server: minting upload tokens, simulating tote sensors and acting as a
// reference display that polls for new bitmaps.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "labelctl",
		Short:         "Tools for the tote label server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newSimulateCommand())
	cmd.AddCommand(newPollCommand())
	return cmd
}
