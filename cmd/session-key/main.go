package main

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/louisbranch/parley/internal/platform/config"
	"github.com/louisbranch/parley/internal/tools/sessionkey"
)

func main() {
	cfg, err := sessionkey.ParseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := sessionkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
