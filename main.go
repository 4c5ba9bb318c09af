package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i4.energy/across/atcommand/internal/logging"
	"i4.energy/across/atcommand/modem"
)

// app carries state shared by the subcommands once the root command has
// loaded the configuration.
type app struct {
	configFile string
	config     *Config
	logger     *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "atcommand",
		Short: "Talk to a modem over AT commands",
		Long: `atcommand drives a Hayes/AT modem attached to a local serial port, or
reached through a serial relay with --remote-address.

Configuration is read in order from defaults, the file given by --config,
the environment (SERIAL_PORT, BAUD_RATE, LOG_LEVEL, BIND_ADDRESS,
RELAY_ADDRESS, REMOTE_ADDRESS) and finally the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "TOML configuration file")
	flags.StringP("serial-port", "p", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flags.IntP("baud-rate", "b", 115200, "Baud rate for serial communication")
	flags.String("remote-address", "", "Reach the modem through a serial relay at this address")
	flags.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP gateway")
	flags.String("relay-address", "0.0.0.0:7000", "Listen address for the serial relay")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("dev", false, "Human readable log output")
	flags.StringSlice("urc-prefix", nil, "Additional line prefix always treated as a URC")

	root.AddCommand(
		newSendCommand(a),
		newMonitorCommand(a),
		newServeCommand(a),
		newRelayCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	config, err := LoadConfig(WithDefaults(), WithFile(a.configFile), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	logger, err := logging.New(config.LogLevel, config.Development)
	if err != nil {
		return err
	}
	a.config = config
	a.logger = logger
	return nil
}

// dialer reaches the modem through the relay when a remote address is
// configured and through the local serial port otherwise.
func (a *app) dialer() modem.Dialer {
	if a.config.RemoteAddress != "" {
		return modem.TCPDialer{Address: a.config.RemoteAddress, Timeout: 5 * time.Second}
	}
	return modem.SerialDialer{PortName: a.config.SerialPort, BaudRate: a.config.BaudRate}
}

// connect opens a client on the configured dialer.
func (a *app) connect(ctx context.Context) (*modem.Client, error) {
	config, err := modem.NewConfigBuilder().
		WithDialer(a.dialer()).
		WithLogger(a.logger.With(zap.String("component", "client"))).
		WithURCPrefixes(a.config.URCPrefixes...).
		Build()
	if err != nil {
		return nil, err
	}
	client, err := modem.New(ctx, config)
	if err != nil {
		a.logger.Error("Failed to connect to modem", zap.Error(err))
		return nil, err
	}
	return client, nil
}
