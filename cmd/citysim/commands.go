package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/talgya/tilecity/internal/api"
	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/config"
	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/persistence"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the city in real time behind the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides api.addr)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (overrides storage.db_path)"},
			&cli.Float64Flag{Name: "speed", Usage: "ticks per second at startup (overrides engine.speed)"},
			&cli.BoolFlag{Name: "fresh", Usage: "ignore saved state and found a new city"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("addr") {
				cfg.API.Addr = cmd.String("addr")
			}
			if cmd.IsSet("db") {
				cfg.Storage.DBPath = cmd.String("db")
			}
			if cmd.IsSet("speed") {
				cfg.Engine.Speed = cmd.Float64("speed")
			}
			return runServer(ctx, cfg, cmd.Bool("fresh"))
		},
	}
}

func runServer(ctx context.Context, cfg config.File, fresh bool) error {
	slog.Info("tilecity starting", "size", cfg.City.Size, "db", cfg.Storage.DBPath)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// ── Load or found the city ───────────────────────────────────────
	c, err := openCity(db, cfg.City, fresh)
	if err != nil {
		return err
	}
	st := c.Stats()
	slog.Info("city ready",
		"id", c.ID(),
		"tick", st.Tick,
		"population", st.Population,
		"cash", humanize.Comma(st.Cash),
	)

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.New(c)
	eng.Interval = cfg.Engine.Interval
	if err := eng.SetSpeed(cfg.Engine.Speed); err != nil {
		return err
	}
	months := 0
	eng.OnMonth = func(snap *city.Snapshot) {
		months++
		if cfg.Storage.SaveOnMonths == 0 || months%cfg.Storage.SaveOnMonths != 0 {
			return
		}
		if err := db.SaveCity(snap); err != nil {
			slog.Error("autosave failed", "error", err)
		}
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	window, _ := cfg.API.Window()
	srv := &api.Server{
		Eng:         eng,
		DB:          db,
		SnapshotDir: cfg.Storage.SnapshotDir,
		Addr:        cfg.API.Addr,
		AdminKey:    os.Getenv("CITYSIM_ADMIN_KEY"),
		Limiter:     api.NewRateLimiter(cfg.API.RateLimit, window),
		CORSOrigins: cfg.API.CORSOrigins,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var apiErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if apiErr = srv.Run(ctx); apiErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	// ── Final save ───────────────────────────────────────────────────
	slog.Info("shutting down, saving city", "tick", eng.TickCount())
	if err := db.SaveCity(eng.Snapshot()); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return apiErr
}

// openCity restores the saved city unless fresh is set or nothing is saved.
func openCity(db *persistence.DB, cfg city.Config, fresh bool) (*city.City, error) {
	if !fresh && db.HasCityState() {
		slog.Info("found saved city state, loading...")
		snap, err := db.LoadCity()
		if err != nil {
			return nil, fmt.Errorf("load city: %w", err)
		}
		c, err := city.Restore(snap)
		if err != nil {
			return nil, fmt.Errorf("restore city: %w", err)
		}
		return c, nil
	}
	return foundCity(cfg)
}

func foundCity(cfg city.Config) (*city.City, error) {
	cfg.Seed = entropy.SeedOr(cfg.Seed)
	return city.New(cfg)
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "run a city headless for a number of ticks",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "ticks", Aliases: []string{"n"}, Value: 5000, Usage: "ticks to run"},
			&cli.StringFlag{Name: "from", Usage: "start from this snapshot file instead of a new city"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the final snapshot file here"},
			&cli.BoolFlag{Name: "starter", Usage: "lay out a starter district before running"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var c *city.City
			if from := cmd.String("from"); from != "" {
				snap, err := persistence.ReadSnapshotFile(from)
				if err != nil {
					return err
				}
				if c, err = city.Restore(snap); err != nil {
					return err
				}
			} else {
				if c, err = foundCity(cfg.City); err != nil {
					return err
				}
			}
			if cmd.Bool("starter") {
				n := layStarterDistrict(c)
				slog.Info("starter district laid out", "cells", n, "cash", humanize.Comma(c.Cash()))
			}

			ticks := cmd.Int("ticks")
			for n := 0; n < ticks; n++ {
				if n%1000 == 0 && ctx.Err() != nil {
					slog.Warn("interrupted", "tick", c.TickCount())
					break
				}
				c.Tick()
			}

			printStats(cmd.Root().Writer, c)
			if out := cmd.String("out"); out != "" {
				if err := persistence.WriteSnapshotFile(out, c.Snapshot()); err != nil {
					return err
				}
				slog.Info("snapshot written", "path", out)
			}
			return nil
		},
	}
}

// layStarterDistrict builds a road through the middle row with houses above
// it and offices below, as far as cash allows. Returns cells built.
func layStarterDistrict(c *city.City) int {
	size := c.Size()
	mid := size / 2
	built := 0
	for j := 0; j < size; j++ {
		if c.Build(grid.Coord{I: mid, J: j}, grid.Road) {
			built++
		}
	}
	for j := 0; j < size; j++ {
		if mid > 0 && c.Build(grid.Coord{I: mid - 1, J: j}, grid.House) {
			built++
		}
		if mid+1 < size && c.Build(grid.Coord{I: mid + 1, J: j}, grid.Office) {
			built++
		}
	}
	return built
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the stats and map of a snapshot file",
		ArgsUsage: "<snapshot file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "map", Value: true, Usage: "print the map"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("inspect: snapshot file required")
			}
			snap, err := persistence.ReadSnapshotFile(path)
			if err != nil {
				return err
			}
			c, err := city.Restore(snap)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			printStats(w, c)
			if cmd.Bool("map") {
				printMap(w, c)
			}
			return nil
		},
	}
}

func printStats(w io.Writer, c *city.City) {
	st := c.Stats()
	fmt.Fprintf(w, "city %s  %s\n", c.ID(), engine.SimTime(st.Tick, c.Config().MonthTicks))
	fmt.Fprintf(w, "  cash          %s (cashflow %s/month)\n", humanize.Comma(st.Cash), humanize.Comma(st.Cashflow))
	fmt.Fprintf(w, "  population    %s in %d houses\n", humanize.Comma(int64(st.Population)), st.Houses)
	fmt.Fprintf(w, "  jobs          %s in %d offices, %s filled\n",
		humanize.Comma(int64(st.Jobs)), st.Offices, humanize.Comma(int64(st.Employments)))
	fmt.Fprintf(w, "  roads/trees   %d / %d\n", st.Roads, st.Trees)
	fmt.Fprintf(w, "  demand        housing %.3f  office %.3f\n", st.HousingDemand, st.OfficeDemand)
	fmt.Fprintf(w, "  unemployment  %.1f%%  commute %.2f  pollution %.3f\n",
		st.Unemployment*100, st.CommuteTime, st.Pollution)
}

func printMap(w io.Writer, c *city.City) {
	size := c.Size()
	row := make([]byte, size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			row[j] = c.CellOrDefault(grid.Coord{I: i, J: j}).Type.Symbol()
		}
		fmt.Fprintf(w, "  %s\n", row)
	}
}
