package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/nugget/relay/internal/config"
	sig "github.com/nugget/relay/internal/signal"
)

// defaultDeviceName is how the linked device appears on the phone.
const defaultDeviceName = "relay"

// linkTimeout bounds the wait for the phone to scan the code.
const linkTimeout = 5 * time.Minute

// runLink links signal-cli as a secondary device of an existing Signal
// account, printing the link URI as a terminal QR code.
func runLink(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	name := defaultDeviceName
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-name" && i+1 < len(args):
			name = args[i+1]
			i++
		default:
			return fmt.Errorf("usage: relay link [-name device]")
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)

	client := sig.NewClient(cfg.Signal.Command, linkArgs(cfg.Signal), logger)
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, linkTimeout)
	defer cancel()

	uri, err := client.StartLink(ctx)
	if err != nil {
		return err
	}

	qr, err := renderQR(uri)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Scan this code from Signal on your phone (Settings > Linked devices):")
	fmt.Fprintln(stdout)
	fmt.Fprint(stdout, qr)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, uri)

	number, err := client.FinishLink(ctx, uri, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Linked as %q to %s. Set signal.account to this number.\n", name, number)
	return nil
}

func renderQR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// linkArgs is the signal-cli argument vector without an account, which
// linking requires.
func linkArgs(c config.SignalConfig) []string {
	in := c.CommandArgs()
	out := make([]string, 0, len(in))
	for i := 0; i < len(in); i++ {
		switch in[i] {
		case "-a", "--account", "-u", "--username":
			i++
			continue
		}
		out = append(out, in[i])
	}
	return out
}
