package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/config"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/messaging"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/providerapi"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/repository"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/service"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/strategy"
)

func recoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-verify every transaction left in flight by a crashed process",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := config.Load()
			repo, closeDB, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if dryRun {
				records, err := repo.ListInFlight(ctx)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records, asJSON)
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			orchestrator, closeDeps, err := newOrchestrator(cfg, repo, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			outcomes, err := service.NewRecoverer(repo, orchestrator, logger).RecoverAll(ctx)
			if err != nil {
				return err
			}
			return printOutcomes(cmd.OutOrStdout(), outcomes, asJSON)
		},
	}

	cmd.Flags().Bool("dry-run", false, "List in-flight transactions without verifying them")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Overall time limit")
	cmd.Flags().BoolP("verbose", "v", false, "Log verification details to stderr")

	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [orderRef]",
		Short: "Show the persisted record of one transaction and its refunds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			repo, closeDB, err := openRepository(config.Load())
			if err != nil {
				return err
			}
			defer closeDB()

			record, err := repo.GetByOrderRef(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("no transaction with order reference %q", args[0])
			}
			if err != nil {
				return err
			}
			refunds, err := repo.ListRefunds(cmd.Context(), record.OrderRef)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), append([]models.TransactionRecord{*record}, refunds...), asJSON)
		},
	}
}

func openRepository(cfg *config.Config) (*repository.TransactionRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return repository.NewTransactionRepository(db), func() { db.Close() }, nil
}

// newOrchestrator builds an orchestrator for verification only; recovery
// never subscribes to notifications.
func newOrchestrator(cfg *config.Config, repo interfaces.TransactionStore, logger *zap.Logger) (*service.Orchestrator, func(), error) {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	api := providerapi.NewClient(providerapi.Config{
		BaseURL:          cfg.PaymentAPIURL,
		APIKey:           cfg.PaymentAPIKey,
		Timeout:          cfg.APITimeout,
		FailureThreshold: cfg.BreakerThreshold,
		Retries:          cfg.APIRetries,
	}, logger)

	orchestrator, err := service.NewFromConfig(
		models.TerminalConfig{Provider: cfg.Provider, KioskID: cfg.KioskID, StoreID: cfg.StoreID},
		api,
		messaging.NewRedisSubscriber(redisClient, logger),
		strategy.DefaultTimings(),
		service.Options{
			Logger:      logger,
			Persistence: repo,
			Verify: service.VerifyPolicy{
				Attempts:       cfg.VerifyAttempts,
				AttemptTimeout: cfg.VerifyAttemptTimeout,
				RetryDelay:     cfg.VerifyRetryDelay,
			},
		},
	)
	if err != nil {
		redisClient.Close()
		return nil, nil, err
	}
	return orchestrator, func() { redisClient.Close() }, nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func printRecords(w io.Writer, records []models.TransactionRecord, asJSON bool) error {
	if asJSON {
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER REF\tKIND\tPROVIDER\tSTATUS\tAMOUNT\tSESSION\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OrderRef, orDash(r.Kind), r.Provider, r.Status, formatAmount(r.AmountCents, r.Currency),
			orDash(r.SessionID), r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printOutcomes(w io.Writer, outcomes []service.RecoveryOutcome, asJSON bool) error {
	if asJSON {
		return writeJSON(w, outcomes)
	}
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "Nothing to recover.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER REF\tRESULT\tCODE\tMESSAGE")
	for _, o := range outcomes {
		if o.Skipped {
			fmt.Fprintf(tw, "%s\tSKIPPED\t-\tnot re-verified\n", o.OrderRef)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.OrderRef, o.Result.Status, orDash(o.Result.ErrorCode), orDash(o.Result.ErrorMessage))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
