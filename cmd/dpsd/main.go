package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/robotalks/minghe.go/pkg/daemon"
	"github.com/robotalks/minghe.go/pkg/framework"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", configFile, "Config file, defaults to DPSD_CONFIG or ./dpsd.yaml.")
}

func main() {
	flag.Parse()

	conf, err := daemon.LoadConfig(configFile)
	if err != nil {
		log.Fatalln(err)
	}
	d, err := daemon.New(conf)
	if err != nil {
		log.Fatalln(err)
	}
	defer d.Close()

	runner := framework.NewRunner().HandleSignals()
	if err = d.Run(runner.Context()); err != nil {
		log.Fatalln(err)
	}
}
