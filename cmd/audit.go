/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Work with the authentication audit stream",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print audit events from the broker as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := mq.New(ctx, cfg.Audit)
		if err != nil {
			return err
		}
		if backend == nil {
			return errors.New("audit backend is log only; set AUDIT_BACKEND to rabbitmq or pubsub")
		}
		defer backend.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		err = backend.Subscribe(ctx, cfg.Audit.Channel, func(_ context.Context, msg mq.Message) error {
			event, err := audit.Decode(msg.Data)
			if err != nil {
				logger.Warn("skipping undecodable audit message", slog.String("message_id", msg.ID), slog.Any("error", err))
				return nil
			}
			return enc.Encode(event)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
}
