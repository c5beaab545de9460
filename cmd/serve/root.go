package serve

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/ugKV/cmd/util"
	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/server"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/ValentinKolb/ugKV/rpc/transport/tcp"
	"github.com/ValentinKolb/ugKV/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the ugKV server",
		Long:    `Start the ugKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is UGKV_<flag> (e.g. UGKV_WORKERS=8)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080 or /tmp/ugkv.sock for the unix transport)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, defaults.Workers, cmdUtil.WrapString("Number of workers executing commands. With a single worker every connection is answered strictly in request order"))

	key = "max-connections"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxConnections, cmdUtil.WrapString("Maximum number of simultaneously open connections, further connections are closed immediately"))

	key = "max-payload"
	ServeCmd.PersistentFlags().Uint32(key, defaults.MaxPayloadBytes, cmdUtil.WrapString("Largest accepted frame payload in bytes. A connection announcing a larger frame is closed"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, defaults.ReadBufferSize/1024, cmdUtil.WrapString("Size of the per read buffer (in KB)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Write timeout for responses in seconds (0 = none)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, defaults.TCPKeepAliveSec, cmdUtil.WrapString("The keepalive interval in seconds (0 = disabled, only for tcp)"))

	key = "initial-capacity"
	ServeCmd.PersistentFlags().Int(key, defaults.InitialCapacity, cmdUtil.WrapString("Number of hash table slots at startup"))

	key = "growth-increment"
	ServeCmd.PersistentFlags().Int(key, defaults.GrowthIncrement, cmdUtil.WrapString("Number of slots the hash table grows by per step"))

	key = "load-factor"
	ServeCmd.PersistentFlags().Float64(key, defaults.LoadFactor, cmdUtil.WrapString("Ratio of entries to slots at which the hash table grows"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on /metrics (e.g. localhost:9090, empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	transportType, err := cmdUtil.GetTransportType()
	if err != nil {
		return err
	}

	serveCmdConfig.Transport = transportType
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.MaxConnections = viper.GetInt("max-connections")
	serveCmdConfig.MaxPayloadBytes = viper.GetUint32("max-payload")
	serveCmdConfig.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.InitialCapacity = viper.GetInt("initial-capacity")
	serveCmdConfig.GrowthIncrement = viper.GetInt("growth-increment")
	serveCmdConfig.LoadFactor = viper.GetFloat64("load-factor")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := serveCmdConfig.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration:\n%w", err)
	}
	return nil
}

// run starts the server and blocks until it is stopped by a signal
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	var t transport.IServerTransport
	switch serveCmdConfig.Transport {
	case common.TransportTCP:
		t = tcp.NewTCPServerTransport()
	case common.TransportUnix:
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", serveCmdConfig.Transport)
	}

	serv := server.NewRPCServer(serveCmdConfig, t)
	return serv.Serve()
}
