// Package main provides a CLI tool for managing the login access list.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"

	"github.com/cory-johannsen/craftd/internal/config"
	"github.com/cory-johannsen/craftd/internal/storage/postgres"
)

func main() {
	start := time.Now()

	flags := pflag.NewFlagSet("banlist", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "configs/dev.yaml", "path to configuration file")
	username := flags.StringP("username", "u", "", "target username (required for ban and unban)")
	reason := flags.StringP("reason", "r", "", "reason shown to the banned player")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: banlist [flags] ban|unban|list\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}
	action := flags.Arg(0)
	if action != "list" && *username == "" {
		flags.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewAccessListRepository(pool)

	switch action {
	case "ban":
		b, err := repo.Ban(ctx, *username, *reason)
		if err != nil {
			log.Fatalf("banning %q: %v", *username, err)
		}
		fmt.Fprintf(os.Stdout, "banned %s (%q) [%s]\n", b.Username, b.Reason, time.Since(start))
	case "unban":
		if err := repo.Unban(ctx, *username); err != nil {
			log.Fatalf("unbanning %q: %v", *username, err)
		}
		fmt.Fprintf(os.Stdout, "unbanned %s [%s]\n", *username, time.Since(start))
	case "list":
		bans, err := repo.List(ctx)
		if err != nil {
			log.Fatalf("listing bans: %v", err)
		}
		renderBans(os.Stdout, bans)
	default:
		log.Fatalf("invalid action %q: must be ban, unban or list", action)
	}
}

// renderBans writes bans as a bordered table, one row per username.
func renderBans(w io.Writer, bans []postgres.Ban) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Username", "Since", "Reason"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, b := range bans {
		reason := b.Reason
		if reason == "" {
			reason = "-"
		}
		tw.Append([]string{b.Username, b.CreatedAt.Format(time.RFC3339), reason})
	}
	tw.Render()
}
