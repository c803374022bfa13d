// watermarkd is the directory-watching embed daemon: new images dropped
// into the watched directories are watermarked, their evidence recorded,
// and the hash tuple fanned out to any enabled timestamp anchors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"watermarkd/internal/config"
	"watermarkd/internal/engine"
	"watermarkd/internal/logging"
	"watermarkd/internal/payload"
	"watermarkd/internal/signer"
	"watermarkd/internal/store"
	"watermarkd/internal/watcher"
	"watermarkd/pkg/anchors"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watermarkd: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "watermarkd: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.WatchPaths) == 0 {
		fmt.Fprintln(os.Stderr, "watermarkd: no watch_paths configured")
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "watermarkd: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watermarkd: %v\n", err)
		os.Exit(1)
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watermarkd: %v\n", err)
		os.Exit(1)
	}

	logOut := os.Stderr
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watermarkd: open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    logOut,
		Component: "watermarkd",
	})

	eng := &engine.Engine{
		Profile: payload.Profile{
			LegalName:     cfg.Owner.LegalName,
			DisplayName:   cfg.Owner.DisplayName,
			CopyrightYear: cfg.Owner.CopyrightYear,
			PrimarySource: cfg.Owner.PrimarySource,
		},
	}
	if key := cfg.SigningKey(); key != "" {
		s, err := signer.New(key)
		if err != nil {
			log.Error("signing key rejected, embedding unsigned", "err", err)
		} else {
			eng.Signer = s
			defer s.Close()
		}
	} else {
		log.Warn("no signing key configured, embedding unsigned")
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Error("open evidence store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := anchors.NewRegistry()
	if cfg.AnchorURL != "" {
		registry.Register(anchors.NewHTTPAnchor(cfg.AnchorURL, 30*time.Second))
		if err := registry.Enable("http"); err != nil {
			log.Error("enable anchor", "err", err)
		}
	}

	w, err := watcher.New(cfg.WatchPaths, cfg.Interval)
	if err != nil {
		log.Error("create watcher", "err", err)
		os.Exit(1)
	}
	if err := w.Start(); err != nil {
		log.Error("start watcher", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("watching", "paths", strings.Join(cfg.WatchPaths, ","), "interval_s", cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			w.Stop()
			return

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			log.Warn("watch error", "err", err)

		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			handle(ctx, log, cfg, eng, st, registry, ev)
		}
	}
}

// handle embeds one stable image. Failures are logged, never fatal to the
// daemon.
func handle(ctx context.Context, log *slog.Logger, cfg *config.Config, eng *engine.Engine, st *store.Store, registry *anchors.Registry, ev watcher.Event) {
	// Skip our own outputs.
	if strings.Contains(filepath.Base(ev.Path), ".marked.") {
		return
	}

	data, err := os.ReadFile(ev.Path)
	if err != nil {
		log.Warn("read image", "path", ev.Path, "err", err)
		return
	}

	start := time.Now()
	res, err := eng.Embed(ctx, engine.EmbedRequest{
		Data:     data,
		FileName: filepath.Base(ev.Path),
		Strength: cfg.Strength,
		EccBytes: cfg.EccBytes,
		Quality:  cfg.JPEGQuality,
	})
	if err != nil {
		log.Warn("embed failed", "path", ev.Path, "err", err)
		return
	}

	outPath := markedPath(cfg, ev.Path)
	if err := os.WriteFile(outPath, res.Watermarked, 0644); err != nil {
		log.Error("write output", "path", outPath, "err", err)
		return
	}

	if err := st.Put(res.Record); err != nil {
		log.Error("store evidence", "work_id", res.WorkID, "err", err)
	}

	// Anchor fan-out after the pure embed stage; failures never roll
	// back the embed.
	if len(registry.Enabled()) > 0 {
		receipts, err := registry.CommitAll(ctx, anchors.Request{
			WorkID:      res.WorkID,
			MediaHash:   res.Record.OriginalHash,
			PayloadHash: res.Record.PayloadHash,
		})
		if err != nil {
			log.Warn("anchor", "work_id", res.WorkID, "err", err)
		} else {
			for _, r := range receipts {
				log.Info("anchored", "work_id", res.WorkID, "provider", r.Provider, "status", r.Status)
			}
		}
	}

	log.Info("embedded",
		"work_id", res.WorkID,
		"path", ev.Path,
		"out", outPath,
		"psnr", res.Record.QualityMetrics.PSNR,
		"ssim", res.Record.QualityMetrics.SSIM,
		"quality_warning", res.QualityWarning,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// markedPath places the watermarked copy next to the original or in the
// configured output directory, always as JPEG.
func markedPath(cfg *config.Config, original string) string {
	base := filepath.Base(original)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + ".marked.jpg"

	dir := filepath.Dir(original)
	if cfg.OutputDir != "" {
		dir = cfg.OutputDir
	}
	return filepath.Join(dir, name)
}
