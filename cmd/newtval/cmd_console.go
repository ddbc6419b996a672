package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/newtval/pkg/console"
)

func newConsoleCmd() *cobra.Command {
	var (
		command     string
		delayFactor float64
	)

	cmd := &cobra.Command{
		Use:   "console [dut]",
		Short: "Open a console session to a DUT",
		Long: `Log in to a DUT through its console server line and attach the
terminal to it. With --command, run one command at the device prompt and
print its output instead.

Ctrl+] detaches an interactive session.

  newtval console upper-tor
  newtval console upper-tor --command "show version"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tb, err := loadTestbed(nil)
			if err != nil {
				return err
			}
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			dut, err := requireDUT(tb, name)
			if err != nil {
				return err
			}
			cfg, err := dut.ConsoleConfig()
			if err != nil {
				return err
			}
			if delayFactor > 0 {
				cfg.DelayFactor = delayFactor
			}

			conn, err := console.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(os.Stderr, "newtval: connecting to %s console (%s line %d)...\n", dut.Name, cfg.Host, cfg.ConsolePort)
			if err := conn.Open(ctx); err != nil {
				return err
			}
			defer conn.Close()

			if command != "" {
				out, err := conn.SendCommand(ctx, command, nil)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}

			return interact(ctx, stop, conn)
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "run one command and print its output")
	cmd.Flags().Float64Var(&delayFactor, "delay-factor", 0, "scale console pauses (slow console servers)")

	return cmd
}

// interact attaches the terminal to conn. In raw mode Ctrl+C reaches the
// device instead of raising SIGINT, so Ctrl+] ends the session.
func interact(ctx context.Context, cancel context.CancelFunc, conn *console.Conn) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return conn.Interact(ctx, os.Stdin, os.Stdout)
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(fd, old)

	fmt.Fprintf(os.Stderr, "newtval: attached, Ctrl+] to detach\r\n")
	return conn.Interact(ctx, &escapeReader{r: os.Stdin, escape: 0x1d, onEscape: cancel}, os.Stdout)
}

// escapeReader ends input at the escape byte.
type escapeReader struct {
	r        *os.File
	escape   byte
	onEscape func()
}

func (e *escapeReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == e.escape {
			e.onEscape()
			return i, nil
		}
	}
	return n, err
}
