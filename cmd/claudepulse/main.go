package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"

	"github.com/joestump/claude-pulse/internal/broker"
	"github.com/joestump/claude-pulse/internal/config"
	"github.com/joestump/claude-pulse/internal/format"
	"github.com/joestump/claude-pulse/internal/fsatomic"
	"github.com/joestump/claude-pulse/internal/health"
	"github.com/joestump/claude-pulse/internal/logging"
	"github.com/joestump/claude-pulse/internal/notify"
	"github.com/joestump/claude-pulse/internal/sanitize"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "claudepulse",
		Short:         "Session health broker and statusline backend for Claude sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("base-dir", "", "state directory (default ~/.claude/session-health)")
	pf.Int("deadline-ms", 20000, "wall-clock budget for one gather")
	pf.Int("staleness-minutes", 5, "transcript age before it counts as stalled")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("config-dir", "", "Claude config dir of the active account slot")
	pf.String("keychain-service", "", "keychain service of the active account slot")
	pf.Int("window-default", 200000, "context window fallback size")

	// Viper keys use underscores so they line up with the env suffix after
	// the CLAUDE_PULSE_ prefix; flag names keep hyphens.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, pf.Lookup(flagName))
	}
	bindFlag("base_dir", "base-dir")
	bindFlag("deadline_ms", "deadline-ms")
	bindFlag("staleness_minutes", "staleness-minutes")
	bindFlag("log_level", "log-level")
	bindFlag("config_dir", "config-dir")
	bindFlag("keychain_service", "keychain-service")
	bindFlag("window_default", "window-default")

	viper.SetEnvPrefix("CLAUDE_PULSE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(gatherCmd(), renderCmd(), sweepCmd(), dashboardCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logging.Logger {
	return logging.New(cfg.LogPath(), logging.ParseLevel(cfg.LogLevel))
}

// gatherCmd reads the launcher's JSON from stdin and runs one full gather.
// It exits 0 on every completion path; failures live in the data files and
// the log, never in the exit code.
func gatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gather",
		Short: "Run one gather from the stdin JSON contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(cfg)

			input, err := io.ReadAll(os.Stdin)
			if err != nil {
				log.Warnf("stdin read failed: %v", err)
				return nil
			}

			v := gjson.ParseBytes(input)
			sessionID := v.Get("session_id").String()
			if sessionID == "" {
				log.Warnf("gather invoked without session_id, nothing to do")
				return nil
			}
			transcriptPath := v.Get("transcript_path").String()

			b := broker.New(cfg, log, broker.Options{})
			h := b.GatherAll(sessionID, transcriptPath, input)
			log.Infof("gather %s done: status=%s", h.SessionID, h.Status)

			b.Sweep(false)
			return nil
		},
	}
}

// renderCmd is the thin front-end: it prints the precomputed lines for the
// nearest width class and never recomputes layout.
func renderCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "render <session-id>",
		Short: "Print the precomputed statusline for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			sid := sanitize.SessionID(args[0])

			var h health.SessionHealth
			if !fsatomic.ReadJSON(filepath.Join(cfg.BaseDir, sid+".json"), &h) {
				fmt.Printf("claudepulse: no data for %s\n", sid)
				return nil
			}

			for _, line := range pickLines(h.FormattedOutput, width) {
				fmt.Println(line)
			}

			// Notifications ride below the statusline on a show/hide cycle.
			notes := notify.NewStore(filepath.Join(cfg.BaseDir, "notifications.json"))
			for _, r := range notes.Ready() {
				_ = notes.RecordShown(r.Type)
			}
			if active := notes.Active(); len(active) > 0 {
				fmt.Printf("🔔 %s\n", active[0].Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "terminal width; 0 selects the single-line variant")
	return cmd
}

// pickLines selects the largest width class not exceeding width; width 0
// selects the single-line variant.
func pickLines(out map[string][]string, width int) []string {
	if len(out) == 0 {
		return nil
	}
	if width <= 0 {
		return out[format.SingleClass]
	}

	var classes []int
	for key := range out {
		if n, err := strconv.Atoi(key); err == nil {
			classes = append(classes, n)
		}
	}
	sort.Ints(classes)
	best := 0
	for _, c := range classes {
		if c <= width {
			best = c
		}
	}
	if best == 0 && len(classes) > 0 {
		best = classes[0]
	}
	return out[strconv.Itoa(best)]
}

func sweepCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the periodic state cleanup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			b := broker.New(cfg, newLogger(cfg), broker.Options{})
			r := b.Sweep(force)
			if !r.Ran {
				fmt.Println("sweep skipped: ran within the last 24h (use --force)")
				return nil
			}
			fmt.Printf("sweep: %d health files, %d cooldowns, %d tmp files, %d intents, %d telemetry rows\n",
				r.HealthRemoved, r.CooldownsRemoved, r.TmpRemoved, r.IntentsRemoved, r.TelemetryRows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the 24h interval gate")
	return cmd
}

// dashboardCmd prints the cross-session telemetry snapshot.
func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the host-wide session dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			var dash struct {
				UpdatedAt int64 `json:"updated_at"`
				Sessions  map[string]struct {
					Line       string `json:"line"`
					Status     string `json:"status"`
					GatheredAt int64  `json:"gathered_at"`
				} `json:"sessions"`
				Freshness map[string]struct {
					Status    string `json:"status"`
					Indicator string `json:"indicator"`
				} `json:"freshness"`
				PendingIntents  []string `json:"pending_intents"`
				ActiveCooldowns []string `json:"active_cooldowns"`
			}
			if !fsatomic.ReadJSON(filepath.Join(cfg.BaseDir, "telemetry.json"), &dash) {
				fmt.Println("claudepulse: no dashboard data yet")
				return nil
			}

			ids := make([]string, 0, len(dash.Sessions))
			for id := range dash.Sessions {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				s := dash.Sessions[id]
				fmt.Printf("%-20s [%s] %s\n", id, s.Status, s.Line)
			}

			cats := make([]string, 0, len(dash.Freshness))
			for c := range dash.Freshness {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				f := dash.Freshness[c]
				fmt.Printf("  %-14s %s %s\n", c, f.Status, f.Indicator)
			}
			if len(dash.PendingIntents) > 0 {
				fmt.Printf("  pending refresh: %s\n", strings.Join(dash.PendingIntents, ", "))
			}
			if len(dash.ActiveCooldowns) > 0 {
				fmt.Printf("  cooldowns: %s\n", strings.Join(dash.ActiveCooldowns, ", "))
			}
			return nil
		},
	}
}
