package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/detect"
	"github.com/openfinsec/kestrel/internal/domain"
	"github.com/openfinsec/kestrel/internal/pipeline"
	"github.com/openfinsec/kestrel/internal/repository"
	"github.com/openfinsec/kestrel/internal/rules"
	"github.com/openfinsec/kestrel/internal/scoring"
)

var (
	transactionsPath  string
	loginsPath        string
	profileEventsPath string
	coreAccountsPath  string
	associationsPath  string
	usersPath         string

	scoringMode string
	topRisk     int
	noStore     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch assessment over CSV input files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		ctx := cmd.Context()

		in, err := loadInputs()
		if err != nil {
			return err
		}
		if in.Transactions == nil && in.Logins == nil && in.CoreAccounts == nil && in.Users == nil {
			return fmt.Errorf("no input files given; pass at least one of --transactions, --logins, --core-accounts, --users")
		}

		modes := []domain.AggregationMode{cfg.Scoring.Mode}
		if scoringMode != "" {
			switch domain.AggregationMode(scoringMode) {
			case domain.ModeWeighted:
				modes = []domain.AggregationMode{domain.ModeWeighted}
			case domain.ModeAdditive:
				modes = []domain.AggregationMode{domain.ModeAdditive}
			case "both":
				modes = []domain.AggregationMode{domain.ModeWeighted, domain.ModeAdditive}
			default:
				return fmt.Errorf("unknown scoring mode %q", scoringMode)
			}
		}

		var repo domain.Repository
		if !noStore {
			repo, err = repository.New(cfg.Repository)
			if err != nil {
				return fmt.Errorf("failed to initialize repository: %w", err)
			}
			defer repo.Close()
		}

		detectors, err := buildDetectors(ctx, cfg, repo)
		if err != nil {
			return err
		}

		for _, mode := range modes {
			sc := cfg.Scoring
			sc.Mode = mode

			p := pipeline.New(detectors, scoring.New(sc), repo, nil)

			result, err := p.Run(ctx, in)
			if err != nil {
				return err
			}

			printSummary(cmd, pipeline.Summarize(result.Run, result.Records, topRisk))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&transactionsPath, "transactions", "", "Transaction CSV file")
	runCmd.Flags().StringVar(&loginsPath, "logins", "", "Login event CSV file")
	runCmd.Flags().StringVar(&profileEventsPath, "profile-events", "", "Profile change CSV file")
	runCmd.Flags().StringVar(&coreAccountsPath, "core-accounts", "", "Core banking account status CSV file")
	runCmd.Flags().StringVar(&associationsPath, "associations", "", "Member-to-account association CSV file")
	runCmd.Flags().StringVar(&usersPath, "users", "", "Digital user record CSV file")

	runCmd.Flags().StringVar(&scoringMode, "mode", "", "Override scoring mode (weighted, additive, or both)")
	runCmd.Flags().IntVar(&topRisk, "top", 10, "Number of highest-risk entities to print")
	runCmd.Flags().BoolVar(&noStore, "no-store", false, "Skip persisting the run to the repository")
}

func loadInputs() (*detect.Inputs, error) {
	in := detect.NewInputs()

	load := func(path, name string, dst **dataset.Dataset) error {
		if path == "" {
			return nil
		}
		d, err := dataset.FromCSVFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		slog.Info("dataset loaded", "input", name, "path", path, "rows", d.Len())
		*dst = d
		return nil
	}

	if err := load(transactionsPath, "transactions", &in.Transactions); err != nil {
		return nil, err
	}
	if err := load(loginsPath, "logins", &in.Logins); err != nil {
		return nil, err
	}
	if err := load(profileEventsPath, "profile-events", &in.ProfileEvents); err != nil {
		return nil, err
	}
	if err := load(coreAccountsPath, "core-accounts", &in.CoreAccounts); err != nil {
		return nil, err
	}
	if err := load(associationsPath, "associations", &in.Associations); err != nil {
		return nil, err
	}
	if err := load(usersPath, "users", &in.Users); err != nil {
		return nil, err
	}

	return in, nil
}

// buildDetectors assembles the full detector set, plus the screening
// rule engine when a repository holds enabled rule configs.
func buildDetectors(ctx context.Context, cfg *domain.Config, repo domain.Repository) ([]detect.Detector, error) {
	d := cfg.Detectors
	detectors := []detect.Detector{
		detect.NewStructuring(d.Structuring),
		detect.NewTakeover(d.Takeover),
		detect.NewKiting(d.Kiting),
		detect.NewDormancy(d.Dormancy),
		detect.NewAnomaly(d.Anomaly),
		detect.NewIdentity(d.Identity),
	}

	if repo != nil {
		engine, err := rules.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
		}
		configs, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule configs: %w", err)
		}
		if len(configs) > 0 {
			if err := engine.LoadRules(configs); err != nil {
				return nil, fmt.Errorf("failed to load rules: %w", err)
			}
			detectors = append(detectors, engine)
			slog.Info("screening rules loaded", "count", engine.RulesCount())
		}
	}

	return detectors, nil
}

func printSummary(cmd *cobra.Command, summary *domain.RunSummary) {
	out := cmd.OutOrStdout()
	run := summary.Run

	fmt.Fprintf(out, "run %s (%s mode)\n", run.ID, run.Mode)
	fmt.Fprintf(out, "  detectors: %d, signals: %d, alerts: %d, entities: %d\n",
		len(run.Detectors), run.SignalCount, run.AlertCount, run.EntityCount)
	fmt.Fprintf(out, "  elapsed: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	fmt.Fprintln(out, "  tiers:")
	for _, tier := range []domain.Tier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow} {
		if n := summary.ByTier[tier]; n > 0 {
			fmt.Fprintf(out, "    %-8s %d\n", tier, n)
		}
	}

	if len(summary.TopRisk) > 0 {
		fmt.Fprintln(out, "  highest risk:")
		for _, rec := range summary.TopRisk {
			fmt.Fprintf(out, "    %-24s %.3f %-8s %v\n", rec.EntityKey, rec.Score, rec.Tier, rec.Detectors)
		}
	}
}
