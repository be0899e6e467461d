package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/bridge/transport"
	"github.com/ValentinKolb/dNet/cmd/host"
	"github.com/ValentinKolb/dNet/cmd/serve"
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dnet",
		Short: "cross-process HTTP bridge for simulation servers",
		Long: fmt.Sprintf(`dNet (v%s)

Serves HTTP routes of a simulation process either in-process or through an
out-of-process host connected over a tcp or unix socket bridge.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dNet",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dNet v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(host.HostCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, serializer.Names[0], util.WrapString(fmt.Sprintf("serializer of the bridge payloads (%s)", strings.Join(serializer.Names, ", "))))
	key = "transport"
	RootCmd.PersistentFlags().String(key, transport.Names[0], util.WrapString(fmt.Sprintf("transport of the bridge connection (%s)", strings.Join(transport.Names, ", "))))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
