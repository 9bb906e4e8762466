package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/edsphinx/log-o/server"
)

func main() {
	parser := argparse.NewParser("logo", "Log management admin service")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "logo.json"})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8575"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenHTTP(*port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Printf("%v\n", err)
	}
}
