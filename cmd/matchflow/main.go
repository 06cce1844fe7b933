package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Black-And-White-Club/matchflow/app"
	matchscanner "github.com/Black-And-White-Club/matchflow/app/modules/match/scanner"
	"github.com/Black-And-White-Club/matchflow/config"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "matchflow",
		Usage: "tournament match lifecycle engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "Path to the configuration file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run timers, the deadline scanner, queue workers and the ops endpoint",
				Action: serve,
			},
			{
				Name:  "generate-bracket",
				Usage: "build the bracket for a tournament in registration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tournament", Required: true, Usage: "tournament id"},
				},
				Action: generateBracket,
			},
			{
				Name:   "sweep",
				Usage:  "run a single deadline scan and print the outcomes",
				Action: sweep,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func bootstrap(c *cli.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.NewApp(c.Context, cfg, app.NewLogger(cfg))
}

func closeApp(application *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Close(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	application, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeApp(application)

	application.Logger.Info("Waiting for shutdown signal...")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application stopped: %w", err)
	}
	application.Logger.Info("Application shut down gracefully.")
	return nil
}

func generateBracket(c *cli.Context) error {
	tournamentID, err := uuid.Parse(c.String("tournament"))
	if err != nil {
		return fmt.Errorf("invalid tournament id: %w", err)
	}

	application, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeApp(application)

	matches, err := application.MatchModule.MatchService.GenerateBracket(c.Context, tournamentID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Printf("round %d match %d  %s  %s\n", m.RoundNumber, m.MatchNumber, m.ID, m.Status)
	}
	return nil
}

func sweep(c *cli.Context) error {
	application, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeApp(application)

	summaries := application.MatchModule.Scanner.Sweep(c.Context)
	for _, name := range []string{matchscanner.SweepScheduled, matchscanner.SweepLive, matchscanner.SweepAdvance} {
		summary := summaries[name]
		outcomes := make([]string, 0, len(summary))
		for outcome := range summary {
			outcomes = append(outcomes, outcome)
		}
		sort.Strings(outcomes)
		fmt.Printf("%s:\n", name)
		for _, outcome := range outcomes {
			fmt.Printf("  %s: %d\n", outcome, summary[outcome])
		}
	}
	return nil
}
