package main

import (
	"log/slog"
	"os"

	"posterwall/parallel"
	"posterwall/poster"

	"github.com/alecthomas/kong"
)

type cli struct {
	Workers int  `help:"Number of parallel workers, one per CPU when 0" default:"0"`
	Verbose bool `help:"Log debug messages" short:"v" default:"false"`
	LogJSON bool `help:"Log in JSON format" name:"log-json" default:"false"`

	Build poster.CLICmd `cmd:"" default:"withargs" help:"Build a poster wall from a folder of images"`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("posterwall"),
		kong.Description("Tile a folder of images into a staggered poster wall."),
		kong.UsageOnError(),
	)

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.Verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	pool := parallel.Start(c.Workers)
	slog.Debug("worker pool started", "workers", pool.Workers())

	err := kctx.Run(pool.Do, pool.Wait)
	pool.Wait(true)
	kctx.FatalIfErrorf(err)
}
