package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/ai"
	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/database"
	"github.com/CosmoTheDev/zapmcp/internal/profiles"
	"github.com/CosmoTheDev/zapmcp/internal/scanner"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify the ZAP daemon, analysis provider and database",
	Long: `Checks that the ZAP API answers, the configured analysis provider is
reachable, the history database opens, and the scan profiles parse.

A scan is only accepted when both ZAP and the analysis provider are up.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	timeout := cfg.Scan.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	allOK := true
	ok := func(detail string) { fmt.Println(successStyle.Render("OK") + " " + dimStyle.Render(detail)) }
	fail := func(detail string) {
		fmt.Println(failStyle.Render("FAIL") + " " + detail)
		allOK = false
	}
	warn := func(detail string) { fmt.Println(warnStyle.Render("WARN") + " " + detail) }

	fmt.Println(headerStyle.Render("=== zapmcp doctor ==="))

	// ZAP
	fmt.Print("ZAP API .................. ")
	zap := scanner.New(scanner.Options{
		APIURL:      cfg.ZAP.APIURL,
		APIKey:      cfg.ZAP.APIKey,
		HTTPTimeout: timeout,
	})
	ctx, cancel := probeCtx()
	version, err := zap.Version(ctx)
	cancel()
	if err != nil {
		fail(fmt.Sprintf("(%s: %v)", cfg.ZAP.APIURL, err))
	} else {
		ok(fmt.Sprintf("(%s, ZAP %s)", cfg.ZAP.APIURL, version))
	}

	// Analysis
	fmt.Print("Analysis provider ........ ")
	analyzer, err := ai.New(cfg.Analysis)
	switch {
	case err != nil:
		fail(fmt.Sprintf("(%v)", err))
	case cfg.Analysis.Provider == "none":
		fail("(disabled; scans will be refused, run 'zapmcp init')")
	default:
		ctx, cancel := probeCtx()
		up := analyzer.IsAvailable(ctx)
		cancel()
		if up {
			ok("(" + analyzer.Name() + ")")
		} else {
			fail("(" + analyzer.Name() + " is not reachable)")
		}
	}

	// Database
	fmt.Print("History database ......... ")
	if !cfg.History.Enabled {
		warn("(history disabled)")
	} else if db, err := database.New(cfg.Database); err != nil {
		fail(fmt.Sprintf("(%v)", err))
	} else {
		ctx, cancel := probeCtx()
		if err := db.Ping(ctx); err != nil {
			fail(fmt.Sprintf("(%v)", err))
		} else {
			ok(fmt.Sprintf("(%s: %s)", db.Driver(), cfg.Database.Path))
		}
		cancel()
		_ = db.Close()
	}

	// Profiles
	fmt.Print("Scan profiles ............ ")
	if all, err := profiles.List(profiles.DefaultDir()); err != nil {
		fail(fmt.Sprintf("(%v)", err))
	} else {
		ok(fmt.Sprintf("(%d available)", len(all)))
	}
	if cfg.Analysis.Profile != "" {
		fmt.Print("Default profile .......... ")
		if _, err := profiles.Load(cfg.Analysis.Profile, profiles.DefaultDir()); err != nil {
			fail(fmt.Sprintf("(%v)", err))
		} else {
			ok("(" + cfg.Analysis.Profile + ")")
		}
	}

	fmt.Println()
	if allOK {
		fmt.Println(successStyle.Render("All checks passed — zapmcp is ready!"))
	} else {
		fmt.Println(warnStyle.Render("Some checks failed — run 'zapmcp init' or 'zapmcp config edit' to fix."))
	}
	return nil
}
