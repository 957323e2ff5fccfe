// Command pixelctl drives an LED matrix display from the command line.
//
//	pixelctl [flags] scan
//	pixelctl [flags] power on|off
//	pixelctl [flags] brightness 1-100
//	pixelctl [flags] bitmap FILE
//	pixelctl [flags] info
//	pixelctl [flags] clear
//	pixelctl [flags] clock STYLE [24h] [date]
//	pixelctl [flags] time
//
// Every option can also come from a YAML file (--config) or an IPIXEL_*
// environment variable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"avaneesh/ipixel-go/pkg/ipixel"
	"avaneesh/ipixel-go/pkg/transfer"
	"avaneesh/ipixel-go/pkg/types"
)

func main() {
	err := run(os.Args[1:])
	ipixel.FlushLogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pixelctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("pixelctl", pflag.ContinueOnError)
	configFile := fs.String("config", "", "YAML configuration file")
	ipixel.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: pixelctl [flags] scan | power on|off | brightness N | bitmap FILE | info | clear | clock STYLE [24h] [date] | time")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	v := viper.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", *configFile, err)
		}
	}
	if err := ipixel.BindFlags(v, fs); err != nil {
		return err
	}
	cfg, err := ipixel.LoadConfig(v)
	if err != nil {
		return err
	}
	if err := ipixel.ApplyLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := ipixel.NewManager()
	defer m.Shutdown()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "scan" {
		return scan(ctx, m, cfg)
	}
	if cfg.Address == "" {
		return errors.New("--address is required")
	}

	d, err := m.AddDevice("pixelctl", cfg, ipixel.Callbacks{
		OnProgress: func(p transfer.Progress) {
			if p.Total > 1 {
				fmt.Printf("\r  chunk %d/%d", p.Sent, p.Total)
				if p.Sent == p.Total {
					fmt.Println()
				}
			}
		},
	})
	if err != nil {
		return err
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}
	fmt.Printf("Connected to %s (mtu %d)\n", cfg.Address, d.MTU())

	switch cmd {
	case "power":
		if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
			return errors.New("usage: power on|off")
		}
		return report(d.SetPower(ctx, rest[0] == "on"))

	case "brightness":
		if len(rest) != 1 {
			return errors.New("usage: brightness 1-100")
		}
		level, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("bad brightness %q: %w", rest[0], err)
		}
		return report(d.SetBrightness(ctx, level))

	case "bitmap":
		if len(rest) != 1 {
			return errors.New("usage: bitmap FILE")
		}
		matrix, err := readBitmapFile(rest[0])
		if err != nil {
			return err
		}
		// Bounds the bitmap to the panel before sending
		d.QueryDeviceInfo(ctx)
		return report(d.DisplayBitmap(ctx, matrix))

	case "info":
		info, res := d.QueryDeviceInfo(ctx)
		printInfo(info)
		return report(res)

	case "clear":
		d.QueryDeviceInfo(ctx)
		return report(d.Clear(ctx))

	case "clock":
		mode, err := parseClockArgs(rest)
		if err != nil {
			return err
		}
		return report(d.SetClockMode(ctx, mode))

	case "time":
		return report(d.SyncTime(ctx, time.Now()))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func scan(ctx context.Context, m *ipixel.Manager, cfg ipixel.Config) error {
	fmt.Printf("Scanning for %s...\n", cfg.ScanTimeout)
	results, err := m.Scan(ctx, cfg)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No displays found")
		return nil
	}
	fmt.Printf("%-20s %-20s %s\n", "NAME", "ADDRESS", "RSSI")
	for _, r := range results {
		fmt.Printf("%-20s %-20s %d\n", r.Name, r.Address, r.RSSI)
	}
	return nil
}

func printInfo(info types.DeviceInfo) {
	source := "reported"
	if !info.Reported {
		source = "defaults"
	}
	fmt.Printf("Panel:      %dx%d (%s)\n", info.Width, info.Height, source)
	fmt.Printf("Device:     type 0x%02X, LED 0x%02X\n", info.DeviceType, info.LEDType)
	fmt.Printf("Firmware:   %s\n", info.MCUVersion)
	fmt.Printf("WiFi:       %t\n", info.HasWiFi)
}

func report(res types.TransferResult) error {
	if !res.IsSuccess() {
		return fmt.Errorf("%s", res)
	}
	fmt.Printf("OK (%d chunks, %d attempts, id %s)\n", res.TotalChunks, res.Attempts, res.ID)
	return nil
}
