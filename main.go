package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/espat/esp32"
)

func main() {
	app := cli.NewApp()
	app.Name = "espatd"
	app.Usage = "drive an ESP32 running the Espressif AT firmware"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "serial-port",
			Value: "/dev/ttyUSB0",
			Usage: "Serial port the ESP32 is connected to",
		},
		cli.IntFlag{
			Name:  "baud-rate",
			Value: esp32.DefaultBaudRate,
			Usage: "Baud rate negotiated with the firmware",
		},
		cli.StringFlag{
			Name:  "flow-control",
			Value: "none",
			Usage: "UART flow control (none, rts, cts, rtscts)",
		},
		cli.BoolFlag{
			Name:  "hard-reset",
			Usage: "Reset the chip through RTS/DTR before bring-up",
		},
		cli.BoolFlag{
			Name:  "ble",
			Usage: "Enable BLE in server role",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "Log level (debug, info, warn, error)",
		},
		cli.StringFlag{
			Name:  "bind-address",
			Value: "0.0.0.0:8080",
			Usage: "Bind address for the HTTP server",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the HTTP gateway",
			Action: serveCommand,
		},
		{
			Name:  "scan",
			Usage: "List the access points in range",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "limit, n",
					Usage: "Maximum number of access points to list",
				},
			},
			Action: scanCommand,
		},
		{
			Name:   "version",
			Usage:  "Print the firmware version",
			Action: versionCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("espatd failed")
	}
}

func parseFlowControl(s string) (esp32.FlowControl, error) {
	switch s {
	case "", "none":
		return esp32.FlowNone, nil
	case "rts":
		return esp32.FlowRTS, nil
	case "cts":
		return esp32.FlowCTS, nil
	case "rtscts":
		return esp32.FlowRTSCTS, nil
	}
	return esp32.FlowNone, fmt.Errorf("unknown flow control %q", s)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// setup loads the configuration and connects to the ESP32
func setup(c *cli.Context) (*Config, *logrus.Logger, *esp32.Device, error) {
	config, err := LoadConfig(WithDefaults(), WithFile(c.GlobalString("config")), WithEnv(), WithFlags(c))
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(config.LogLevel)

	flow, err := parseFlowControl(config.FlowControl)
	if err != nil {
		return nil, nil, nil, err
	}

	builder := esp32.NewConfigBuilder().
		WithDialer(esp32.SerialDialer{
			PortName:   config.SerialPort,
			ResetLines: config.HardReset,
		}).
		WithBaudRate(config.BaudRate).
		WithFlowControl(flow).
		WithHardReset(config.HardReset).
		WithDebug(logger.IsLevelEnabled(logrus.DebugLevel)).
		WithLogger(logger.WithField("component", "esp32"))
	if config.BLE {
		builder = builder.WithBLE(esp32.BLERoleServer)
	}
	deviceConfig, err := builder.Build()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("device config: %w", err)
	}

	d, err := esp32.New(context.Background(), deviceConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to %s: %w", config.SerialPort, err)
	}
	return config, logger, d, nil
}

func serveCommand(c *cli.Context) error {
	config, logger, d, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing device connection")
		if err := d.Close(); err != nil {
			logger.WithError(err).Error("Failed to close device")
		}
	}()

	d.OnWifiStatus(func(s esp32.WifiStatus) {
		logger.WithField("status", s).Info("Wi-Fi status changed")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:     logger.WithField("component", "server"),
			Device:     d,
			RecvWindow: config.RecvWindow,
		},
	}

	g.Go(func() error {
		logger.WithField("address", httpServer.Addr).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Closing HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if ble := d.BLE(); ble != nil {
		if err := advertise(ble, logger); err != nil {
			logger.WithError(err).Warn("BLE advertising unavailable")
		} else {
			g.Go(func() error { return serviceBLE(ctx, ble) })
		}
	}

	return g.Wait()
}

func advertise(ble *esp32.BLE, logger *logrus.Logger) error {
	ble.OnConnect(func(conn int, addr net.HardwareAddr) {
		logger.WithFields(logrus.Fields{"conn": conn, "peer": addr}).Info("BLE client connected")
	})
	ble.OnDisconnect(func(conn int) {
		logger.WithField("conn", conn).Info("BLE client disconnected")
	})
	ble.OnWrite(func(p esp32.Packet) {
		logger.WithFields(logrus.Fields{"service": p.Service, "char": p.Char, "bytes": len(p.Data)}).
			Debug("BLE characteristic written")
	})

	if err := ble.SetDeviceName("espatd"); err != nil {
		return err
	}
	if err := ble.StartServices(); err != nil {
		return err
	}
	return ble.StartAdvertising()
}

// serviceBLE parses BLE notifications whenever the firmware signals output
func serviceBLE(ctx context.Context, ble *esp32.BLE) error {
	signals := make(chan struct{}, 1)
	ble.AttachSigio(func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	defer ble.AttachSigio(nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			if err := ble.ProcessOOB(100*time.Millisecond, true); err != nil {
				return err
			}
		}
	}
}

func scanCommand(c *cli.Context) error {
	_, _, d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	aps, err := d.Scan(c.Int("limit"))
	if err != nil {
		return err
	}
	for _, ap := range aps {
		fmt.Printf("%-32q %s %4d dBm  ch %-2d %s\n", ap.SSID, ap.BSSID, ap.RSSI, ap.Channel, ap.Security)
	}
	return nil
}

func versionCommand(c *cli.Context) error {
	_, _, d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	v, err := d.FirmwareVersion()
	if err != nil {
		return err
	}
	info, err := d.VersionInfo()
	if err != nil {
		return err
	}
	fmt.Printf("AT firmware %s\n", v)
	for _, line := range info {
		fmt.Println(line)
	}
	return nil
}
