package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/server"
	cmdUtil "github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the route server",
		Long:    `Start the simulation side route server with the demo routes. In bridge mode the server connects to a dNet host (see dnet host), in listener mode it serves HTTP itself. The configuration can be set via command line flags or environment variables. The format of the environment variables is DNET_<flag> (e.g. DNET_MODE=listener)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupBridgeFlags(ServeCmd)
	cmdUtil.SetupPoolFlags(ServeCmd)

	key := "mode"
	ServeCmd.PersistentFlags().String(key, string(common.ServerModeBridge), cmdUtil.WrapString("How requests are received: bridge (through a dNet host) or listener (in-process HTTP server)"))

	key = "address"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The public HTTP address. In bridge mode it is sent to the host, in listener mode it is served directly"))

	key = "reconnect-interval-ms"
	ServeCmd.PersistentFlags().Int(key, int(common.DefaultReconnectInterval/time.Millisecond), cmdUtil.WrapString("(Bridge Mode) The pause between two connection attempts (in milliseconds)"))

	key = "max-handlers"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxConcurrentHandlers, cmdUtil.WrapString("(Bridge Mode) The number of request handlers running at once"))

	key = "write-timeout"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The write timeout of the public HTTP server and of single bridge frames (in seconds, 0 disables it)"))

	key = "read-timeout"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The read timeout of the public HTTP server (in seconds, 0 disables it)"))

	key = "keep-alive"
	ServeCmd.PersistentFlags().Int(key, 60, cmdUtil.WrapString("The idle timeout of keep-alive connections of the public HTTP server (in seconds)"))

	key = "request-timeout"
	ServeCmd.PersistentFlags().Int(key, common.DefaultRequestTimeoutSec, cmdUtil.WrapString("(Bridge Mode) The time the host waits for an answer (in seconds)"))

	key = "max-body-size"
	ServeCmd.PersistentFlags().Int64(key, 1024, cmdUtil.WrapString("The largest accepted request body (in KB, 0 disables the limit)"))

	key = "cors-origins"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of origins allowed by CORS (e.g. https://example.com), empty disables CORS"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Mode = common.ServerMode(viper.GetString("mode"))
	switch serveCmdConfig.Mode {
	case common.ServerModeBridge, common.ServerModeListener:
	default:
		return fmt.Errorf("invalid mode %s (expected one of: %s, %s)", serveCmdConfig.Mode, common.ServerModeBridge, common.ServerModeListener)
	}

	serveCmdConfig.Transport = viper.GetString("transport")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Session = common.SessionConfig{
		Endpoint:              viper.GetString("endpoint"),
		ReconnectInterval:     time.Duration(viper.GetInt("reconnect-interval-ms")) * time.Millisecond,
		ReadBufferSize:        viper.GetInt("read-buffer") * 1024,
		MaxFrameSize:          viper.GetInt("max-frame-size") * 1024 * 1024,
		MaxConcurrentHandlers: viper.GetInt("max-handlers"),
		WriteTimeoutSec:       viper.GetInt("write-timeout"),
		Socket:                cmdUtil.GetSocketConfig(),
	}

	serveCmdConfig.Options = common.Options{
		Address:            viper.GetString("address"),
		KeepAliveSec:       viper.GetInt("keep-alive"),
		ReadTimeoutSec:     viper.GetInt("read-timeout"),
		WriteTimeoutSec:    viper.GetInt("write-timeout"),
		RequestTimeoutSec:  viper.GetInt("request-timeout"),
		MaxRequestBodySize: viper.GetInt64("max-body-size") * 1024,
	}
	if origins := viper.GetString("cors-origins"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			serveCmdConfig.Options.CORSOrigins = append(serveCmdConfig.Options.CORSOrigins, strings.TrimSpace(origin))
		}
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the route server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetTransport()
	if err != nil {
		return err
	}

	poolConfig := cmdUtil.GetPoolConfig("serve")
	buffer.Logger.Infof("%s", poolConfig.String())
	pool := buffer.NewPool(poolConfig)

	room, err := newDemoRoom(pool)
	if err != nil {
		return err
	}
	router := server.NewRouter()
	if err := room.register(router); err != nil {
		return err
	}

	srv := server.NewServer(*serveCmdConfig, router, pool, t, s)
	room.session = srv.Session

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
