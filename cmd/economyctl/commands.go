package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/realm-tycoon/economy-server/internal/app"
	"github.com/realm-tycoon/economy-server/internal/auth"
	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/service"
	"github.com/realm-tycoon/economy-server/internal/worker"
)

type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// reportLister is implemented by both report stores
type reportLister interface {
	ListReports(ctx context.Context, playerID string) ([]domain.Report, error)
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "economyctl",
		Short: "Operator tooling for the Realm Tycoon economy server",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = app.NewLogger(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("ECONOMY_CONFIG"), "config file (default: environment only)")

	rootCmd.AddCommand(
		c.newScanCmd(),
		c.newValidateCmd(),
		c.newTokenCmd(),
		c.newSeedCmd(),
		c.newReportsCmd(),
		c.newSendScoreCmd(),
	)
	return rootCmd
}

// withEconomy opens the configured backends for the duration of fn
func (c *cli) withEconomy(cmd *cobra.Command, fn func(ctx context.Context, b *app.Backend, economy *service.EconomyService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := app.Open(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b, service.NewEconomyService(b.Store, b.Options(c.cfg), c.logger))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one anti-cheat scan over every player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEconomy(cmd, func(ctx context.Context, _ *app.Backend, economy *service.EconomyService) error {
				w, err := worker.NewScanWorker(economy, &c.cfg.Scanner, c.logger)
				if err != nil {
					return err
				}
				result, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <playerId>",
		Short: "Check a player record and persist corrections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEconomy(cmd, func(ctx context.Context, _ *app.Backend, economy *service.EconomyService) error {
				resp, err := economy.ValidatePlayerData(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
}

func (c *cli) newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <playerId>",
		Short: "Mint a bearer token for a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.NewSigner(c.cfg.Auth.Secret, c.cfg.Auth.TokenTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func (c *cli) newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load player records from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading seed file: %w", err)
			}
			var players []domain.Player
			if err := json.Unmarshal(data, &players); err != nil {
				return fmt.Errorf("parsing seed file: %w", err)
			}

			return c.withEconomy(cmd, func(ctx context.Context, _ *app.Backend, economy *service.EconomyService) error {
				repo := economy.Repository()
				for i := range players {
					if players[i].ID == "" {
						return fmt.Errorf("player %d has no id", i)
					}
					if err := repo.PutPlayer(ctx, &players[i]); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d players\n", len(players))
				return nil
			})
		},
	}
}

func (c *cli) newReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reports <playerId>",
		Short: "List suspicion reports filed against a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEconomy(cmd, func(ctx context.Context, b *app.Backend, economy *service.EconomyService) error {
				var lister reportLister = economy.Repository()
				if l, ok := b.Reports.(reportLister); ok {
					lister = l
				}
				reports, err := lister.ListReports(ctx, args[0])
				if err != nil {
					return err
				}
				if reports == nil {
					reports = []domain.Report{}
				}
				return printJSON(cmd.OutOrStdout(), reports)
			})
		},
	}
}

func (c *cli) newSendScoreCmd() *cobra.Command {
	var playerName string
	cmd := &cobra.Command{
		Use:   "send-score <playerId> <category> <value>",
		Short: "Publish a trusted score message to the ingestion topic",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing value: %w", err)
			}
			if _, err := domain.ParseCategory(args[1]); err != nil {
				return err
			}
			if !c.cfg.Kafka.Enabled {
				return errors.New("kafka is not enabled")
			}

			return c.withEconomy(cmd, func(ctx context.Context, b *app.Backend, _ *service.EconomyService) error {
				return b.Producer.SendScore(ctx, domain.ScoreMessage{
					PlayerID:   args[0],
					PlayerName: playerName,
					Category:   args[1],
					Value:      value,
				})
			})
		},
	}
	cmd.Flags().StringVar(&playerName, "name", "", "display name carried with the score")
	return cmd
}
