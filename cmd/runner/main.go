// Command runner hosts sandbox runners in their own process and answers
// dispatches from the tracker over NATS.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"trip-tracker/internal/config"
	"trip-tracker/internal/publisher"
	"trip-tracker/internal/sandbox"
)

func main() {
	config.InitLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manifest, err := config.LoadManifest(cfg.RunnerManifest, cfg.RunnerLabel)
	if err != nil {
		log.Fatalf("runner manifest: %v", err)
	}

	nc, err := publisher.Connect(cfg.NATSURL, "trip-tracker-runner", nil)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Close()

	host := manifest.NewHost()
	defer host.Close()
	subs, err := sandbox.Serve(nc, host, manifest.Labels()...)
	if err != nil {
		log.Fatalf("serve runners: %v", err)
	}
	log.Printf("runner host ready (%d runners, recycle after %d invocations)", len(subs), manifest.RecycleAfter)

	<-ctx.Done()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if err := nc.Drain(); err != nil {
		log.Printf("nats drain: %v", err)
	}
	log.Println("shutdown complete")
}
