// Command dbtool manages the reading database offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"govee-gateway/internal/config"
	"govee-gateway/internal/logging"
	"govee-gateway/internal/storage"
)

var version = "dev"

const usage = `usage: %s <command>
  migrate            apply pending schema migrations
  devices            list known devices
  latest <address>   print the newest reading of a device
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.StorageEnabled() {
		fmt.Fprintln(os.Stderr, "SQLITE_PATH or SQLITE_DSN must be set")
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg, version, "govee-dbtool"))

	if err := run(context.Background(), cfg, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	conn, err := storage.Open(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := storage.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	switch args[0] {
	case "migrate":
		n, err := storage.Migrate(ctx, conn, slog.Default())
		if err != nil {
			return err
		}
		fmt.Printf("%d migrations applied\n", n)
	case "devices":
		devices, err := storage.NewRepository(conn).Devices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\tlast_seen=%s\trssi=%d\n", d.Address, d.Name, d.LastSeen.Format(time.RFC3339), d.LastRSSI)
		}
	case "latest":
		if len(args) < 2 {
			return errors.New("missing device address")
		}
		r, err := storage.LatestReading(ctx, storage.NewRepository(conn), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s at %s\n", r.Notification(), r.SeenAt.Format(time.RFC3339))
	default:
		return fmt.Errorf("unknown command (see usage)")
	}
	return nil
}
