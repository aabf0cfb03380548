// Command ledger-verify recomputes account balances from their ledgers and
// reports drift. It exits 1 when any account is inconsistent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"capitalguard/internal/cli"
	"capitalguard/internal/config"
	"capitalguard/internal/ledger"
	"capitalguard/internal/log"
)

func main() {
	users := flag.String("user", "", "comma-separated user ids to verify (default: every account)")
	flag.Parse()

	cli.LoadEnvFile()
	bootLogger := log.Default(log.ComponentLedger)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentLedger)

	ctx, stop := cli.SignalContext(logger)
	drift, err := run(ctx, logger, cfg, splitUsers(*users))
	stop()
	if err != nil {
		logger.Error("Verification failed", log.FieldError, err, log.FieldOperation, log.OpVerify)
		os.Exit(1)
	}
	if drift > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, userIDs []string) (int, error) {
	be := cli.InitBackend(ctx, logger, cfg)
	defer be.Cleanup()

	store := ledger.New(be.Backend, ledger.WithLogger(logger))
	if len(userIDs) == 0 {
		ids, err := store.AccountIDs(ctx)
		if err != nil {
			return 0, err
		}
		userIDs = ids
	}

	drift := 0
	for _, id := range userIDs {
		audit, err := store.Verify(ctx, id)
		if err != nil {
			return drift, fmt.Errorf("verify %s: %w", id, err)
		}
		status := "ok"
		if !audit.Consistent() {
			status = "DRIFT"
			drift++
		}
		fmt.Printf("%-36s %-5s stored=%s computed=%s transactions=%d\n",
			audit.UserID, status, audit.Stored, audit.Computed, audit.Transactions)
	}
	logger.Info("Verification complete",
		"accounts", len(userIDs),
		"drifted", drift,
		log.FieldOperation, log.OpVerify)
	return drift, nil
}

func splitUsers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
