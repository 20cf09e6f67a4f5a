package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rov-remote/internal/arduino"
	"rov-remote/internal/config"
	"rov-remote/internal/logger"
	"rov-remote/internal/rov"
	"rov-remote/internal/serialport"
	"rov-remote/internal/server"
	"rov-remote/internal/version"
)

//go:embed web/*
var staticFiles embed.FS

var (
	configPath string
	overrides  config.Config
	rtspURL    string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "rov-remote",
		Short: "Drive an ROV from a browser over the Arduino serial link.",
		Long: `Serves a control panel with the eight-way thrust pad, vertical thrust
slider, all stop, emergency surface and lights, and relays every action as a
text command to the vehicle's microcontroller on a serial port.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	flags := root.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	flags.StringVarP(&overrides.ListenAddr, "listen", "l", config.DefaultListenAddr, "HTTP listen address")
	flags.StringVarP(&overrides.Serial.Device, "device", "d", "", "serial device of the vehicle, e.g. /dev/ttyACM0")
	flags.IntVarP(&overrides.Serial.BaudRate, "baud", "b", config.DefaultBaudRate, "serial baud rate")
	flags.BoolVar(&overrides.Serial.AutoConnect, "auto-connect", false, "open --device at start")
	flags.IntVarP(&overrides.Drive.Power, "power", "p", config.DefaultPower, "thrust percentage for direction buttons")
	flags.DurationVar(&overrides.Drive.DeadmanTimeout, "deadman", config.DefaultDeadmanTimeout, "stop when running without input this long (negative disables)")
	flags.StringVar(&rtspURL, "rtsp", "", "RTSP URL of the vehicle camera")
	flags.StringVar(&overrides.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(devicesCommand(), version.Command())

	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link := arduino.NewLink(arduino.Config{
		Open:        arduino.SerialOpener(cfg.Serial.BaudRate, cfg.Serial.ReadTimeout),
		CommandRate: cfg.Drive.CommandRate,
	})
	vehicle := rov.NewVehicle(link, rov.VehicleConfig{
		Power:          cfg.Drive.Power,
		DeadmanTimeout: cfg.Drive.DeadmanTimeout,
	})

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.ListenAddr,
		Device:      cfg.Serial.Device,
		AutoConnect: cfg.Serial.AutoConnect,
		RTSPURL:     cfg.Camera.RTSPURL,
		ICEServers:  cfg.Camera.ICEServers,
	}, link, vehicle, staticFiles)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	logger.InfoKV(ctx, "ROV remote control",
		"version", version.Version,
		"listen", cfg.ListenAddr,
		"device", cfg.Serial.Device,
		"baud", cfg.Serial.BaudRate,
		"camera", cfg.Camera.RTSPURL != "",
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// loadConfig reads the config file, applies flags set on the command line
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = overrides.ListenAddr
	}
	if flags.Changed("device") {
		cfg.Serial.Device = overrides.Serial.Device
	}
	if flags.Changed("baud") {
		cfg.Serial.BaudRate = overrides.Serial.BaudRate
	}
	if flags.Changed("auto-connect") {
		cfg.Serial.AutoConnect = overrides.Serial.AutoConnect
	}
	if flags.Changed("power") {
		cfg.Drive.Power = overrides.Drive.Power
	}
	if flags.Changed("deadman") {
		cfg.Drive.DeadmanTimeout = overrides.Drive.DeadmanTimeout
	}
	if flags.Changed("rtsp") {
		cfg.Camera.RTSPURL = rtspURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = overrides.LogLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List serial devices the vehicle may be attached to.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := serialport.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial devices found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tUSB\tVID:PID\tPRODUCT")
			for _, d := range devices {
				ids := "-"
				if d.IsUSB {
					ids = d.VID + ":" + d.PID
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", d.Name, d.IsUSB, ids, d.Product)
			}
			return w.Flush()
		},
	}
}
