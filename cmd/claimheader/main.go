/*
This command starts the jwtClaimHeader proxy.

For the list of command line options, run:

	claimheader -help
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader"
	"github.com/zalando/claimheader/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := claimheader.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
