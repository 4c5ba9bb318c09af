package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/modem"
	"i4.energy/across/atcommand/relay"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	urcColor  = color.New(color.FgCyan)
	dimColor  = color.New(color.Faint)
)

func newSendCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "send COMMAND...",
		Short: "Send AT commands and print their responses",
		Long: `Send each command in turn and print its response. Sending stops at the
first command that does not complete with OK.`,
		Example: `  atcommand send AT+CGMI 'AT+CSQ'
  atcommand --remote-address 10.0.0.5:7000 send --timeout 30s AT+COPS=?`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			var opts []modem.SendOption
			if timeout > 0 {
				opts = append(opts, modem.WithTimeout(timeout))
			}
			if prefix != "" {
				opts = append(opts, modem.WithPrefix(prefix))
			}
			out := cmd.OutOrStdout()
			for _, line := range args {
				resp, err := client.Send(cmd.Context(), line, opts...)
				if err != nil {
					failColor.Fprintf(out, "%s: %v\n", line, err)
					return err
				}
				printResponse(out, line, resp)
				printURCs(out, client)
				if !resp.OK() {
					return fmt.Errorf("%s: %s", line, resp.Result)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Response timeout per command (default from client)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Strip this prefix from information lines")
	return cmd
}

func newMonitorCommand(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print unsolicited result codes as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			return monitor(cmd.Context(), cmd.OutOrStdout(), client, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "URC poll interval")
	return cmd
}

// monitor polls the URC queue until ctx is done.
func monitor(ctx context.Context, w io.Writer, client *modem.Client, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		printURCs(w, client)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command gateway",
		Long: `Expose the modem over HTTP:

  POST /command  {"command": "AT+CSQ", "timeout_ms": 2000, "prefix": "+CSQ:"}
  GET  /urc      queued unsolicited result codes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	client, err := a.connect(ctx)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: a.config.BindAddress,
		Handler: &Server{
			Logger: a.logger.With(zap.String("component", "server")),
			Client: client,
		},
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
			client.Close()
			return err
		}
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Failed to gracefully shutdown server", zap.Error(err))
	}

	a.logger.Info("Closing modem connection")
	if err := client.Close(); err != nil {
		a.logger.Error("Failed to close modem", zap.Error(err))
		return err
	}
	return nil
}

func newRelayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Share the local serial port over TCP",
		Long: `Bridge the local serial port to TCP so a remote atcommand can reach the
modem with --remote-address. One client is served at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.config.RemoteAddress != "" {
				return errors.New("relay needs a local serial port, not --remote-address")
			}
			srv := &relay.Server{
				Dialer: a.dialer(),
				Logger: a.logger.With(zap.String("component", "relay")),
			}
			return srv.ListenAndServe(cmd.Context(), a.config.RelayAddress)
		},
	}
}

// printResponse renders resp with the result coloured by outcome.
func printResponse(w io.Writer, cmd string, resp at.Response) {
	dimColor.Fprintf(w, "> %s\n", cmd)
	if resp.Info != "" {
		fmt.Fprintln(w, resp.Info)
	}
	result := resp.Result.String()
	if resp.Noncompliant {
		result += " (noncompliant)"
	}
	if _, used := resp.CRCOK(); used {
		result += " [crc " + resp.CRC.String() + "]"
	}
	if resp.OK() {
		okColor.Fprintln(w, result)
	} else {
		failColor.Fprintln(w, result)
	}
}

func printURCs(w io.Writer, client *modem.Client) {
	for {
		urc, ok := client.URC()
		if !ok {
			return
		}
		urcColor.Fprintf(w, "%s %s\n", time.Now().Format(time.TimeOnly), urc)
	}
}
