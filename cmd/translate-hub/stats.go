package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"translate-hub/pkg/callhistory"
	"translate-hub/pkg/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print call history statistics and blacklist verdicts",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	backend, closeBackend, err := openHistoryBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := callhistory.Open(ctx, backend, logger)
	return printStats(cmd, store, policyFrom(cfg), time.Now())
}

func printStats(cmd *cobra.Command, store *callhistory.Store, policy callhistory.Policy, now time.Time) error {
	identities := store.Identities()
	sort.Strings(identities)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tCALLS\tTOTAL\tCALLS 24H\tTOTAL 24H\tVERDICT")
	for _, identity := range identities {
		st := store.Stats(identity, now)
		verdict := "ok"
		if policy.Blacklisted(st) {
			verdict = "blacklisted"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n",
			identity,
			st.TotalCalls,
			seconds(st.TotalTime),
			st.Last24Calls,
			seconds(st.Last24Time),
			verdict,
		)
	}
	return w.Flush()
}

func seconds(s float64) time.Duration {
	return (time.Duration(s * float64(time.Second))).Round(time.Second)
}

func policyFrom(cfg *config.Config) callhistory.Policy {
	return callhistory.Policy{
		MaxCalls24h:  cfg.TranslateHub.Last24MaxNumCalls,
		MaxTime24h:   cfg.TranslateHub.Last24MaxTotalTime,
		BlacklistFor: cfg.TranslateHub.BlacklistFor,
	}
}

// openHistoryBackend selects the call history backend from configuration
func openHistoryBackend(cfg *config.Config) (callhistory.Backend, func(), error) {
	switch cfg.TranslateHub.CallDBBackend {
	case "redis":
		backend, err := callhistory.NewRedisBackend(callhistory.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			Database:  cfg.Redis.Database,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close() }, nil
	default:
		return callhistory.NewFileBackend(cfg.TranslateHub.CallDB), func() {}, nil
	}
}
