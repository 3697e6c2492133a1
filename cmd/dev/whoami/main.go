package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/identity"
	"github.com/garnizeh/techsync/internal/mapping"
	"github.com/garnizeh/techsync/pkg/remote"
)

// whoami checks the remote credentials and, given a technician name, shows
// which identity a sync would use for them.
func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config YAML file")
	technician := pflag.StringP("technician", "t", "", "Technician name to resolve against the mapping file")
	timeout := pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	pflag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Remote.ApplyDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := remote.NewDefaultClient(cfg.Remote)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	acct, err := client.Myself(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("account:      %s (%s)\n", acct.AccountID, acct.DisplayName)

	strict, err := client.IsStrictPrivacyMode(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("strict mode:  %t (configured %s)\n", strict, cfg.Remote.PrivacyMode)

	if *technician == "" {
		return
	}
	table, err := mapping.LoadFile(cfg.Mapping.Path)
	if err != nil {
		log.Fatal(err)
	}
	m, err := table.Lookup(*technician)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *technician, err)
		os.Exit(1)
	}
	id, err := identity.Resolve(m, strict)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *technician, err)
		os.Exit(1)
	}
	fmt.Printf("resolves to:  %s\n", id)
}
