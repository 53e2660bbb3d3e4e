package main

import (
	"log"

	"github.com/shaunagostinho/agdash/internal/server"
	"github.com/shaunagostinho/agdash/web"
	"github.com/spf13/cobra"
)

var (
	serveDemo   bool
	serveListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Println("[main] agdash starting")

		cfg := server.LoadConfig(configPath)
		if serveDemo {
			cfg.CAN.Source = "demo"
		}
		if serveListen != "" {
			cfg.Server.ListenAddr = serveListen
		}

		src, err := buildSource(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		// The dashboard starts regardless; the source connects in the background
		connected := make(chan struct{})
		go func() {
			defer close(connected)
			if err := connectWithRetry(ctx, src, cfg.CAN.ConnectAttempts); err != nil && ctx.Err() == nil {
				log.Printf("[main] %v", err)
			}
		}()

		srv := server.New(cfg, src, web.FS)
		err = srv.Run(ctx)

		// Close only once no Connect can still be in flight.
		cancel()
		<-connected
		src.Close()
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Run with simulated CAN traffic")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Override listen address (e.g. :8080)")
}
