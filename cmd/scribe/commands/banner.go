package commands

import (
	"fmt"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
	"github.com/teranos/scribe/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *am.Config) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════╗\n")
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ║   %s  scribe  %s  media → transcript    ║\n", sym.Pulse, sym.Doc)
	fmt.Printf("   ║                                       ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ scribe ────────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Listen:    http://%s\n", green, reset, cfg.Server.Address())
	fmt.Printf("%s│%s Data:      %s\n", green, reset, cfg.DataDir)
	fmt.Printf("%s│%s Engine:    %s\n", green, reset, cfg.Engine.Kind)
	fmt.Printf("%s│%s History:   %s\n", green, reset, cfg.History.Backend)
	if path := am.ActiveConfigFile(); path != "" {
		fmt.Printf("%s│%s Config:    %s\n", green, reset, path)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s%s POST /jobs to submit, GET /ws to follow progress%s\n", yellow, bold, sym.IX, reset)
	fmt.Printf("%sPress Ctrl+C to stop%s\n\n", blue, reset)
}
