package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/ugKV/cmd/kv"
	"github.com/ValentinKolb/ugKV/cmd/serve"
	"github.com/ValentinKolb/ugKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ugkv",
		Short: "in-memory key-value store",
		Long: fmt.Sprintf(`ugKV (v%s)

An in-memory key-value store served over TCP or Unix sockets
using a compact little-endian binary protocol.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ugKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ugKV v%s\n", Version)
		},
	}
)

func init() {
	// read .env files and UGKV_* variables before any command runs
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
