// Command pixelsim runs a virtual LED matrix display behind a QUIC bridge,
// so pixelctl and the ipixel package can be used without hardware. Applied
// display state is streamed as JSON over a websocket at /feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/ipixel"
	"avaneesh/ipixel-go/pkg/simulator"
)

func main() {
	err := run(os.Args[1:])
	ipixel.FlushLogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pixelsim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	def := simulator.DefaultConfig()

	fs := pflag.NewFlagSet("pixelsim", pflag.ContinueOnError)
	fs.String("listen", "127.0.0.1:4242", "QUIC bridge address")
	fs.String("http", "127.0.0.1:8080", "websocket feed address, empty to disable")
	fs.String("variant", def.Variant.Name, "protocol variant: "+strings.Join(codec.VariantNames(), ", "))
	fs.Int("width", def.Info.Width, "reported panel width")
	fs.Int("height", def.Info.Height, "reported panel height")
	fs.Int("mtu", def.MTU, "usable MTU advertised after discovery")
	fs.Bool("wifi", false, "report a WiFi module")
	fs.Int("drop-acks", 0, "swallow the first N chunk acks")
	fs.Int("reject-next", 0, "answer the first N chunks with Busy")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Bool("frame-debug", false, "hex dump every frame")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix("PIXELSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	level, err := ipixel.ParseLogLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	ipixel.SetLogLevel(level)
	ipixel.EnableFrameDebug(v.GetBool("frame-debug"))
	log := ipixel.DefaultLogger()

	variant, err := codec.LookupVariant(v.GetString("variant"))
	if err != nil {
		return err
	}
	cfg := def
	cfg.Variant = variant
	cfg.Info.Width = v.GetInt("width")
	cfg.Info.Height = v.GetInt("height")
	cfg.Info.HasWiFi = v.GetBool("wifi")
	cfg.MTU = v.GetInt("mtu")

	dev := simulator.NewDevice(cfg, log)
	dev.InjectFaults(simulator.Faults{
		DropAcks:   v.GetInt("drop-acks"),
		RejectNext: v.GetInt("reject-next"),
	})

	server, err := simulator.NewQUICServer(dev, v.GetString("listen"), nil, log)
	if err != nil {
		return err
	}
	defer server.Close()
	fmt.Printf("Simulating %dx%d %s display on quic://%s\n", cfg.Info.Width, cfg.Info.Height, variant.Name, server.Addr())

	errCh := make(chan error, 1)
	var httpServer *http.Server
	if addr := v.GetString("http"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/feed", simulator.FeedHandler(dev, log))
		httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		fmt.Printf("Display feed on ws://%s/feed\n", addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	fmt.Println("Shutting down")
	if httpServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpServer.Shutdown(sctx)
	}
	fmt.Printf("Frames applied: %d, %s\n", dev.FramesApplied(), dev.Statistics())
	return nil
}
