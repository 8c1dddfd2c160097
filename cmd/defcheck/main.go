// defcheck validates and merges definition sources without starting a server.
//
// Usage:
//
//	go run ./cmd/defcheck [-config path] [-base dirs] [-mods dirs] [-v]
//
// Explicit -base/-mods override the config file. Exit status is non-zero when
// the merged set fails validation, so it slots into content CI.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/driftmud/server/internal/config"
	"github.com/driftmud/server/internal/data"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "server config TOML to take content dirs from")
	baseFlag := flag.String("base", "", "comma-separated base content dirs (overrides config)")
	modsFlag := flag.String("mods", "", "comma-separated mod dirs, merged in order (overrides config)")
	verbose := flag.Bool("v", false, "log merge details")
	flag.Parse()

	if err := run(*cfgPath, *baseFlag, *modsFlag, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "defcheck: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, baseFlag, modsFlag string, verbose bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	base := cfg.Content.BaseDirs
	mods := cfg.Content.ModDirs
	if baseFlag != "" {
		base = splitDirs(baseFlag)
	}
	if modsFlag != "" {
		mods = splitDirs(modsFlag)
	}

	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	set, err := data.NewLoader(log, base, mods).Load()
	if err != nil {
		return err
	}

	counts := set.Counts()
	for _, kind := range []string{data.KindZone, data.KindNPC, data.KindItem, data.KindQuest} {
		fmt.Printf("%-12s %d\n", kind, counts[kind])
	}
	fmt.Printf("%-12s %d\n", "total", set.Total())
	fmt.Printf("%-12s %016x\n", "fingerprint", set.Fingerprint())
	fmt.Println("ok")
	return nil
}

func splitDirs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
