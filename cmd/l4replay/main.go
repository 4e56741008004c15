// Command l4replay rebuilds a book from a capture file and prints it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"l4book/book"
	"l4book/internal/channel"
	"l4book/internal/display"
	"l4book/logger"
	"l4book/processor"
	"l4book/reader/replay"
)

func main() {
	log := logger.GetLogger()

	input := flag.String("input", "", "Capture file with one L4 message per line")
	market := flag.String("market", "", "Market to rebuild")
	levels := flag.Int("levels", 10, "Price levels per side to print")
	orders := flag.Int("orders", 3, "Orders listed per level")
	asJSON := flag.Bool("json", false, "Print book statistics as JSON instead of a table")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *input == "" || *market == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := log.Configure(*level, "text", "stderr", 0); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	src, err := replay.Open(*input, *market)
	if err != nil {
		log.WithError(err).Error("failed to open capture")
		os.Exit(1)
	}

	bk := processor.NewBook(*market)
	in, err := processor.NewIngestor(bk, processor.IngestOptions{Buffer: 1024, Policy: channel.Block})
	if err != nil {
		log.WithError(err).Error("failed to create ingestor")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := in.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("replay failed")
		os.Exit(1)
	}
	log.WithComponent("replay").WithFields(logger.Fields{
		"lines":  src.Lines(),
		"frames": in.Stats().Frames,
	}).Info("replay finished")

	if *asJSON {
		snap := bk.Snapshot()
		out := struct {
			Market string       `json:"market"`
			Stats  book.Stats   `json:"stats"`
			Bids   []book.Level `json:"bids"`
			Asks   []book.Level `json:"asks"`
		}{snap.Market(), bk.Stats(), snap.TopN(book.Bid, *levels), snap.TopN(book.Ask, *levels)}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.WithError(err).Error("failed to encode book")
			os.Exit(1)
		}
		return
	}
	display.Render(os.Stdout, bk.Snapshot(), display.Options{Levels: *levels, Orders: *orders})
}
