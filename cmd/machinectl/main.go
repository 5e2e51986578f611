// machinectl watches or changes the machine state from a terminal.
//
//	machinectl watch [--url ws://localhost:8000/ws]
//	machinectl set --speed 50 --valve=true
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"machine_control/internal/client"

	"github.com/spf13/pflag"
)

const defaultURL = "ws://localhost:8000/ws"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return nil
	}
	command, args := args[0], args[1:]

	var (
		url     string
		origin  string
		speed   float64
		valve   bool
		timeout time.Duration
	)
	flagSet := pflag.NewFlagSet("machinectl "+command, pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", defaultURL, "websocket endpoint of the server")
	flagSet.StringVar(&origin, "origin", "", "Origin header to send (for servers that check it)")
	if command == "set" {
		flagSet.Float64Var(&speed, "speed", 0, "motor speed, 0..100")
		flagSet.BoolVar(&valve, "valve", false, "valve open (true) or closed (false)")
		flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	switch command {
	case "watch":
		c, err := client.Dial(ctx, url, header)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		return client.Watch(ctx, c, os.Stdout)

	case "set":
		var change client.Change
		if flagSet.Changed("speed") {
			change.MotorSpeed = &speed
		}
		if flagSet.Changed("valve") {
			change.ValveState = &valve
		}
		if change.MotorSpeed == nil && change.ValveState == nil {
			return errors.New("set: nothing to change, pass --speed and/or --valve")
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c, err := client.Dial(ctx, url, header)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		st, err := client.Set(ctx, c, change)
		if err != nil {
			return err
		}
		fmt.Println(client.Format(st))
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `machinectl: talk to the machine state server.

Commands:
  watch   print every state update
  set     change motor speed and/or valve state

Flags:
  --url      websocket endpoint (default `+defaultURL+`)
  --origin   Origin header to send
  --speed    (set) motor speed, 0..100
  --valve    (set) valve state
  --timeout  (set) overall timeout (default 5s)
`)
}
