package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcelojr/provote/internal/app/reputation"
	"github.com/marcelojr/provote/internal/domain"
)

type ipAdmin interface {
	Block(ctx context.Context, ip, reason string, manual bool, blockedBy string, autoUnblock time.Duration) (domain.IPBlock, error)
	Unblock(ctx context.Context, ip, unblockedBy string) (bool, error)
	Whitelist(ctx context.Context, ip, reason, createdBy string) (domain.IPWhitelist, error)
	RemoveWhitelist(ctx context.Context, ip string) (bool, error)
	SweepExpired(ctx context.Context) (int, error)
	Status(ctx context.Context, ip string) (reputation.Status, error)
}

type opener func(ctx context.Context) (ipAdmin, func(), error)

func newRootCommand(open opener) *cobra.Command {
	var (
		svc     ipAdmin
		closeFn func()
	)
	root := &cobra.Command{
		Use:           "provote-admin",
		Short:         "Administração de reputação e bloqueio de IPs",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, closer, err := open(cmd.Context())
			if err != nil {
				return err
			}
			svc, closeFn = s, closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeFn != nil {
				closeFn()
			}
		},
	}
	get := func() ipAdmin { return svc }

	root.AddCommand(
		blockCommand(get),
		unblockCommand(get),
		whitelistCommand(get),
		unwhitelistCommand(get),
		sweepCommand(get),
		statusCommand(get),
	)
	return root
}

func blockCommand(svc func() ipAdmin) *cobra.Command {
	var (
		reason string
		by     string
		hours  int
	)
	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Bloqueia um IP; sem --hours o bloqueio é manual e não expira",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manual := hours <= 0
			block, err := svc().Block(cmd.Context(), args[0], reason, manual, by, time.Duration(hours)*time.Hour)
			if errors.Is(err, reputation.ErrIPWhitelisted) {
				return fmt.Errorf("%s esta na whitelist; remova antes de bloquear", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bloqueado %s (%s)", block.IP, block.Reason)
			if block.AutoUnblockAt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), " ate %s", block.AutoUnblockAt.Format(time.RFC3339))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "Manual block", "motivo do bloqueio")
	cmd.Flags().StringVar(&by, "by", "admin", "responsavel pelo bloqueio")
	cmd.Flags().IntVar(&hours, "hours", 0, "horas ate o desbloqueio automatico")
	return cmd
}

func unblockCommand(svc func() ipAdmin) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Remove o bloqueio ativo de um IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := svc().Unblock(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s nao estava bloqueado\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "desbloqueado %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "admin", "responsavel pelo desbloqueio")
	return cmd
}

func whitelistCommand(svc func() ipAdmin) *cobra.Command {
	var reason, by string
	cmd := &cobra.Command{
		Use:   "whitelist <ip>",
		Short: "Coloca o IP na whitelist e remove bloqueios ativos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := svc().Whitelist(cmd.Context(), args[0], reason, by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "whitelist %s (%s)\n", entry.IP, entry.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "motivo da liberacao")
	cmd.Flags().StringVar(&by, "by", "admin", "responsavel pela liberacao")
	return cmd
}

func unwhitelistCommand(svc func() ipAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "unwhitelist <ip>",
		Short: "Remove o IP da whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := svc().RemoveWhitelist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s nao estava na whitelist\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removido da whitelist %s\n", args[0])
			return nil
		},
	}
}

func sweepCommand(svc func() ipAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Desbloqueia todos os bloqueios automaticos vencidos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := svc().SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bloqueios expirados removidos\n", n)
			return nil
		},
	}
}

func statusCommand(svc func() ipAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "status <ip>",
		Short: "Mostra reputacao, bloqueio e whitelist de um IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := svc().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ip:          %s\n", args[0])
			fmt.Fprintf(out, "score:       %d\n", st.Reputation.ReputationScore)
			fmt.Fprintf(out, "violacoes:   %d\n", st.Reputation.ViolationCount)
			fmt.Fprintf(out, "sucessos:    %d\n", st.Reputation.SuccessfulAttempts)
			fmt.Fprintf(out, "whitelist:   %t\n", st.Whitelisted)
			fmt.Fprintf(out, "bloqueado:   %t\n", st.Blocked)
			if st.Blocked {
				fmt.Fprintf(out, "motivo:      %s\n", st.BlockReason)
			}
			return nil
		},
	}
}
