package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/bridge/transport"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// register the connectors
	_ "github.com/ValentinKolb/dNet/bridge/transport/tcp"
	_ "github.com/ValentinKolb/dNet/bridge/transport/unix"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DNET_<FLAG> variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dnet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Shared flags
// --------------------------------------------------------------------------

// SetupBridgeFlags adds the flags every bridge endpoint needs
func SetupBridgeFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, common.DefaultEndpoint, WrapString("The address of the bridge connection (e.g. localhost:9090 for tcp, /tmp/dnet.sock for unix)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultReadBufferSize/1024, WrapString("The size of the scratch buffer for inbound frames (in KB)"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize/(1024*1024), WrapString("The largest accepted frame payload (in MB), larger frames end the connection"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The kernel write buffer of the socket (in KB, 0 keeps the OS default, only for tcp)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The kernel read buffer of the socket (in KB, 0 keeps the OS default, only for tcp)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, common.DefaultSocketConfig().TCPKeepAliveSec, WrapString("The keepalive interval (in seconds, 0 disables it, only for tcp)"))
}

// GetSocketConfig reads the socket flags from viper
func GetSocketConfig() common.SocketConfig {
	return common.SocketConfig{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
	}
}

// SetupPoolFlags adds the buffer pool flags
func SetupPoolFlags(cmd *cobra.Command) {
	key := "pool-size"
	cmd.PersistentFlags().Int(key, buffer.DefaultPoolSize, WrapString("The number of buffers created up front"))

	key = "pool-buffer-size"
	cmd.PersistentFlags().Int(key, buffer.DefaultBufferCapacity/1024, WrapString("The initial capacity of every pooled buffer (in KB)"))

	key = "leak-detection"
	cmd.PersistentFlags().Bool(key, false, WrapString("Report buffers that are not returned to the pool in time (development only)"))

	key = "leak-timeout-ms"
	cmd.PersistentFlags().Int(key, int(buffer.DefaultLeakTimeout/time.Millisecond), WrapString("The time a buffer may stay rented before it is reported (in milliseconds)"))
}

// GetPoolConfig reads the pool flags from viper
func GetPoolConfig(name string) buffer.PoolConfig {
	return buffer.PoolConfig{
		Name:           name,
		BufferCapacity: viper.GetInt("pool-buffer-size") * 1024,
		PoolSize:       viper.GetInt("pool-size"),
		LeakDetection:  viper.GetBool("leak-detection"),
		LeakTimeout:    time.Duration(viper.GetInt("leak-timeout-ms")) * time.Millisecond,
	}
}

// GetSerializer creates the serializer selected with --serializer
func GetSerializer() (serializer.IBridgeSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates the connector selected with --transport
func GetTransport() (transport.IConnector, error) {
	return transport.ByName(viper.GetString("transport"))
}
