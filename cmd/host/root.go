package host

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/dNet/bridge/common"
	bridgehost "github.com/ValentinKolb/dNet/bridge/host"
	cmdUtil "github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	hostCmdConfig = &common.HostConfig{}
	HostCmd       = &cobra.Command{
		Use:     "host",
		Short:   "Start the HTTP host",
		Long:    `Start the out-of-process HTTP host. The host waits for the simulation on the bridge endpoint and serves the routes the simulation announces on the address the simulation sends in its options. The configuration can be set via command line flags or environment variables. The format of the environment variables is DNET_<flag> (e.g. DNET_REQUEST_TIMEOUT=10)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupBridgeFlags(HostCmd)

	key := "request-timeout"
	HostCmd.PersistentFlags().Int(key, common.DefaultRequestTimeoutSec, cmdUtil.WrapString("The time to wait for the simulation to answer a request (in seconds), used when the simulation sends no timeout"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	hostCmdConfig.Endpoint = viper.GetString("endpoint")
	hostCmdConfig.Transport = viper.GetString("transport")
	hostCmdConfig.Serializer = viper.GetString("serializer")
	hostCmdConfig.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	hostCmdConfig.MaxFrameSize = viper.GetInt("max-frame-size") * 1024 * 1024
	hostCmdConfig.DefaultRequestTimeoutSec = viper.GetInt("request-timeout")
	hostCmdConfig.Socket = cmdUtil.GetSocketConfig()
	hostCmdConfig.LogLevel = viper.GetString("log-level")

	return common.InitLoggers(hostCmdConfig.LogLevel)
}

// run starts the host and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetTransport()
	if err != nil {
		return err
	}

	bridgehost.Logger.Infof("%s", hostCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bridgehost.New(*hostCmdConfig, t, s).Serve(ctx)
}
