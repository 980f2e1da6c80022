package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rts2go/rts2drv/pkg/cli"
	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/config"
	"github.com/rts2go/rts2drv/pkg/device"
	"github.com/rts2go/rts2drv/pkg/health"
	"github.com/rts2go/rts2drv/pkg/msgsink"
	"github.com/rts2go/rts2drv/pkg/netman"
	"github.com/rts2go/rts2drv/pkg/rlog"
	"github.com/rts2go/rts2drv/pkg/value"
	"github.com/rts2go/rts2drv/pkg/version"
)

// Sentinel errors for exit code mapping. RunE handlers return these
// instead of calling os.Exit directly, so deferred cleanup runs.
var errStartup = errors.New("startup error")

var (
	flagDevice            string
	flagDeviceType        int
	flagPort              int
	flagServer            string
	flagServerPort        int
	flagConnectionTimeout float64
	flagVerbose           bool
	flagDebug             bool
	flagLogFile           string
	flagConfigFile        string
	flagNoUserConfig      bool
	flagNoSystemConfig    bool
	flagSimulation        bool
	flagDisableDevice     bool
	flagShowConfig        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rts2drv",
		Short: "RTS2 device driver runtime",
		Long: `rts2drv runs one RTS2 device process: it listens for client and peer
connections, authenticates against centrald, maintains the device's
state/BOP words and value catalogue, and resolves interest-driven
connections to other devices.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		PersistentPreRunE: resolveConfig,
		RunE:              runDevice,
	}

	rootCmd.PersistentFlags().StringVarP(&flagDevice, "device", "d", "", "device name")
	rootCmd.PersistentFlags().IntVar(&flagDeviceType, "device-type", 0, "device type code")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "P", 0, "listening port (0 chooses one)")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "c", "", "centrald host")
	rootCmd.PersistentFlags().IntVarP(&flagServerPort, "server-port", "p", 0, "centrald port")
	rootCmd.PersistentFlags().Float64Var(&flagConnectionTimeout, "connection-timeout", 0, "idle connection timeout, seconds (kept in the resolved config only; connections use fixed idle timeouts of 60 s for centrald and 300 s for clients and peers)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug-level logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "explicit config file path")
	rootCmd.PersistentFlags().BoolVar(&flagNoUserConfig, "no-user-config", false, "skip the per-user config file")
	rootCmd.PersistentFlags().BoolVar(&flagNoSystemConfig, "no-system-config", false, "skip the system config file")
	rootCmd.PersistentFlags().BoolVar(&flagSimulation, "simulation", false, "run without real hardware")
	rootCmd.PersistentFlags().BoolVar(&flagDisableDevice, "disable-device", false, "start disabled; report NOT_READY until enabled")
	rootCmd.Flags().BoolVar(&flagShowConfig, "show-config", false, "print the resolved configuration and exit")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rts2drv %s (%s)\n", version.Version, version.GitCommit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var resolvedConfig config.Config

func resolveConfig(cmd *cobra.Command, args []string) error {
	overrides := config.FlagOverrides{}
	if cmd.Flags().Changed("device") {
		overrides.Device = &flagDevice
	}
	if cmd.Flags().Changed("device-type") {
		overrides.DeviceType = &flagDeviceType
	}
	if cmd.Flags().Changed("port") {
		overrides.Port = &flagPort
	}
	if cmd.Flags().Changed("server") {
		overrides.Server = &flagServer
	}
	if cmd.Flags().Changed("server-port") {
		overrides.ServerPort = &flagServerPort
	}
	if cmd.Flags().Changed("connection-timeout") {
		overrides.ConnectionTimeout = &flagConnectionTimeout
	}
	if cmd.Flags().Changed("verbose") {
		overrides.Verbose = &flagVerbose
	}
	if cmd.Flags().Changed("debug") {
		overrides.Debug = &flagDebug
	}
	if cmd.Flags().Changed("log-file") {
		overrides.LogFile = &flagLogFile
	}
	if cmd.Flags().Changed("simulation") {
		overrides.Simulation = &flagSimulation
	}
	if cmd.Flags().Changed("disable-device") {
		overrides.DisableDevice = &flagDisableDevice
	}

	cfg, err := config.Resolve(flagConfigFile, flagNoSystemConfig, flagNoUserConfig, overrides)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}
	resolvedConfig = cfg

	if cfg.Debug {
		rlog.SetLevel("debug")
	} else if cfg.Verbose {
		rlog.SetLevel("info")
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("%w: opening log file: %v", errStartup, err)
		}
		rlog.SetOutput(f)
	}
	return nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	if flagShowConfig {
		out, err := config.Marshal(resolvedConfig)
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}
		fmt.Print(out)
		return nil
	}

	cfg := resolvedConfig
	if cfg.Device == "" {
		return fmt.Errorf("%w: -d/--device is required", errStartup)
	}

	d := device.New(cfg.Device, cfg.DeviceType, noopSink{})
	if cfg.DisableDevice {
		d.SetState(d.State()|device.NotReady, "disabled at startup", nil)
	}

	nm := netman.New(cfg.Device, cfg.DeviceType, cfg.Port, d)

	sink, err := msgsink.NewFileSink(defaultMessageLogPath(cfg.Device), msgsink.RotationConfig{
		MaxSize:    10 << 20,
		MaxBackups: 10,
	})
	if err != nil {
		return fmt.Errorf("%w: opening message log: %v", errStartup, err)
	}
	defer sink.Close()
	nm.SetMessageSink(sink)

	checker := health.NewChecker()
	nm.SetOnCentraldConnected(func() {
		report := checker.Run(cmd.Context(), nm)
		cli.RenderReport(report)
	})

	if err := nm.Start(cfg.Server, cfg.ServerPort); err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}
	rlog.WithDevice(cfg.Device).Infof("listening on port %d", nm.Port())

	waitForShutdown()
	nm.Stop()
	return nil
}

func defaultMessageLogPath(deviceName string) string {
	return "/var/log/rts2/" + deviceName + "-messages.log"
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// noopSink is a placeholder; netman.New rebinds the device's real
// network sink via Device.SetNetwork before any command handler runs.
type noopSink struct{}

func (noopSink) SetDeviceState(uint32, string)                  {}
func (noopSink) SetBOPState(uint32, uint32)                     {}
func (noopSink) BroadcastValue(*value.Value)                    {}
func (noopSink) SendValueTo(*value.Value, *conn.Connection)     {}
func (noopSink) SendOK(*conn.Connection)                        {}
func (noopSink) SendError(*conn.Connection, string)             {}
func (noopSink) SendStatus(*conn.Connection)                    {}
