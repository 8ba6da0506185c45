// Command srtcat is a minimal netcat-style exerciser for the srtcore
// package: in listen mode it accepts one connection and copies its
// data to stdout; in dial mode it connects out and copies stdin to
// the connection. Adapted from the teacher's core/main.go banner +
// signal-driven graceful shutdown, per SPEC_FULL.md §2.3.
package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srt-go/srtcore"
	"github.com/srt-go/srtcore/internal/xlog"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listenAddr string
		dialAddr   string
		passphrase string
		useGCM     bool
		latencyMS  int
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:     "srtcat",
		Short:   "Send and receive over an SRT connection",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				xlog.SetLevel(zerolog.DebugLevel)
			}
			xlog.Banner("srtcat", version)

			opts := srtcore.Options{
				Passphrase: passphrase,
				UseGCM:     useGCM,
				Latency:    time.Duration(latencyMS) * time.Millisecond,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go waitForSignal(cancel)

			switch {
			case listenAddr != "":
				return runListen(ctx, listenAddr, opts)
			case dialAddr != "":
				return runDial(ctx, dialAddr, opts)
			default:
				return cmd.Help()
			}
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVarP(&listenAddr, "listen", "l", "", "bind and accept one inbound connection (host:port)")
	flags.StringVarP(&dialAddr, "dial", "d", "", "dial out to a remote srtcat (host:port)")
	flags.StringVar(&passphrase, "passphrase", "", "enable encryption with this passphrase")
	flags.BoolVar(&useGCM, "gcm", false, "use AES-GCM instead of AES-CTR")
	flags.IntVar(&latencyMS, "latency", 120, "TSBPD latency budget in milliseconds")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func waitForSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	xlog.For("srtcat").Warn().Str("signal", sig.String()).Msg("shutting down")
	cancel()
}

func runListen(ctx context.Context, laddr string, opts srtcore.Options) error {
	log := xlog.For("srtcat")
	l, err := srtcore.Listen(laddr, opts)
	if err != nil {
		return err
	}
	defer l.Close()
	log.Info().Str("addr", l.Addr().String()).Msg("listening")

	acceptCh := make(chan *srtcore.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	case c := <-acceptCh:
		log.Info().Str("peer", c.RemoteAddr().String()).Msg("accepted connection")
		_, err := io.Copy(os.Stdout, c)
		return err
	}
}

func runDial(ctx context.Context, raddr string, opts srtcore.Options) error {
	log := xlog.For("srtcat")
	c, err := srtcore.DialContext(ctx, raddr, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	log.Info().Str("peer", c.RemoteAddr().String()).Msg("connected")

	reader := bufio.NewReader(os.Stdin)
	_, err = io.Copy(c, reader)
	return err
}
