// Command coinjectured runs a single permissioned chain node: it parses
// the configuration surface, wires every subsystem through node.New, and
// blocks until an interrupt signal arrives. Grounded on kaspad.go's
// newKaspad/start/stop sequencing and its use of an interrupt channel to
// drive a single graceful shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Quigles1337/COINjecture1337/config"
	"github.com/Quigles1337/COINjecture1337/node"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "coinjectured: parsing configuration: %s\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coinjectured: building node: %s\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "coinjectured: starting node: %s\n", err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	if err := n.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "coinjectured: stopping node: %s\n", err)
		os.Exit(1)
	}
}
