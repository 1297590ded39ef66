package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peerctl",
	Short: "A fixed-roster peer-to-peer file sharing client",
	Long:  Cyan + Bold + logoSmall + Reset + "\n  " + Dim + "Tit-for-tat piece exchange over a static peer roster" + Reset,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
