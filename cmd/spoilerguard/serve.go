package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelbrown/spoilerguard/internal/enrich"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/server"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

const statsRetention = 90 * 24 * time.Hour

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	titles := fs.String("titles", "", "Titles file (YAML or JSON); defaults to the config's titles_file")
	addr := fs.String("addr", "", "Listen address; defaults to the config's server.addr")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	reg := loadRegistry(cfg, *titles)

	if err := logging.Init(dataDir(), logging.ParseLevel(cfg.LogLevel)); err != nil {
		logging.Warn("file logging disabled, staying on stderr", "error", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := openEvents()
	defer events.Close()
	ring := otel.NewRingBuffer(0)
	events.SetRingBuffer(ring)
	events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindStartup, Comp: "serve", Msg: cfg.Server.Addr})

	st := openStats(cfg)
	defer st.Close()
	if n, err := st.Prune(time.Now().Add(-statsRetention)); err == nil && n > 0 {
		logging.Info("pruned old stats", "rows", n)
	}
	rec := stats.NewRecorder(st)
	defer rec.Close()

	emb := newEmbedder(cfg)
	if emb != nil {
		go enrich.New(reg, emb, events).Run(ctx)
	}

	srv := server.New(server.Deps{
		Registry: reg,
		Config:   cfg,
		Embedder: emb,
		Events:   events,
		Ring:     ring,
		Stats:    st,
		Recorder: rec,
	})
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		events.Error(otel.KindError, "serve", err)
		logging.Error("server failed", "error", err)
		events.Close()
		logging.Close()
		os.Exit(1)
	}
	events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindShutdown, Comp: "serve"})
}
