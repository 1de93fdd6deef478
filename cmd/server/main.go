package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/janus-scope/backend/internal/config"
	"github.com/janus-scope/backend/internal/dashboard"
	"github.com/janus-scope/backend/internal/dispatch"
	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/gateway"
	"github.com/janus-scope/backend/internal/health"
	"github.com/janus-scope/backend/internal/ingest"
	"github.com/janus-scope/backend/internal/mock"
	"github.com/janus-scope/backend/internal/plugin"
	"github.com/janus-scope/backend/internal/sink"
	"github.com/janus-scope/backend/internal/store"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic gateway traffic")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	st, err := store.Open(cfg.Store.Path, cfg.Store.MaxEvents)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer st.Close()

	d := dispatch.New(dispatch.Options{
		QueueSize:    cfg.Dispatch.QueueSize,
		DrainTimeout: cfg.Dispatch.DrainTimeout,
	})

	persist := sink.NewPersistence(st, cfg.Store.FlushSize, cfg.Store.FlushInterval)
	tracker := event.NewRoomTracker()
	broadcaster := dashboard.NewBroadcaster(st, cfg.Dashboard.BroadcastThrottle)
	for _, s := range []dispatch.Sink{persist, sink.NewRooms(tracker), broadcaster} {
		if err := d.Register(s); err != nil {
			log.Fatalf("Failed to register sink %s: %v", s.Name(), err)
		}
	}

	reporter, err := health.New()
	if err != nil {
		log.Fatalf("Failed to start health reporter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stream *ingest.Stream
	var client *gateway.Client
	var rooms *plugin.VideoRoom

	if *mockMode {
		log.Println("Starting in mock mode")
		mock.NewGenerator(d).Start(ctx)
	} else {
		client = gateway.NewClient(gateway.Config{
			URL:                   cfg.Gateway.URL,
			APISecret:             cfg.Gateway.APISecret,
			AdminKey:              cfg.Gateway.AdminKey,
			AdminSecret:           cfg.Gateway.AdminSecret,
			SessionTimeout:        cfg.Gateway.SessionTimeout,
			KeepaliveInterval:     cfg.Gateway.KeepaliveInterval,
			KeepaliveFailureLimit: cfg.Gateway.KeepaliveFailureLimit,
		})
		client.RegisterObserver(d)

		if _, err := client.Open(ctx); err != nil {
			log.Fatalf("Failed to open gateway session: %v", err)
		}
		if handle, err := client.Attach(ctx, gateway.PluginVideoRoom); err != nil {
			log.Printf("videoroom attach failed, plugin control disabled: %v", err)
		} else {
			rooms = plugin.NewVideoRoom(client, handle)
			if list, err := rooms.List(ctx); err != nil {
				log.Printf("videoroom room listing failed: %v", err)
			} else {
				log.Printf("videoroom control ready, %d rooms", len(list))
			}
		}

		stream, err = ingest.Connect(cfg.Gateway.EventsURL, d, func(code int, err error) {
			log.Printf("event stream closed (code %d): %v", code, err)
		})
		if err != nil {
			log.Fatalf("Failed to connect event stream: %v", err)
		}

		reporter.AddProbe("gateway", func() string { return client.State().String() })
		reporter.AddProbe("socket", func() string { return stream.State().String() })
	}

	server := dashboard.NewServer(st, broadcaster, reporter,
		cfg.Dashboard.AllowedOrigins, cfg.Dashboard.AuthToken, cfg.Dashboard.Password)
	if rooms != nil {
		server.SetRoomLister(rooms)
	}
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		if stream != nil {
			stream.Close()
		}
		if client != nil {
			client.Close()
		}
		if err := d.Close(); err != nil {
			log.Printf("dispatcher drain: %v", err)
		}
		persist.Close()
		st.Close()
		os.Exit(0)
	}()

	if err := dashboard.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
