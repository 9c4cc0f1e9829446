/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/policy"
	"github.com/osda-portal/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and distribute the role to permission table",
}

var permissionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the table the server would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		var objects storage.ObjectStorage
		if cfg.Permissions.Source == policy.SourceStorage {
			objects, err = storage.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
		}
		loader, err := policy.NewLoader(cfg.Permissions, objects, logger)
		if err != nil {
			return err
		}
		table, err := loader.Load(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	},
}

var permissionsPublishKey string

var permissionsPublishCmd = &cobra.Command{
	Use:   "publish [file]",
	Short: "Validate a table and upload it to object storage",
	Long: `Validate a role to permission table and upload it to object storage,
where servers configured with PERMISSIONS_SOURCE=storage pick it up.
Without a file the builtin table is published.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		table := auth.DefaultPermissionTable()
		if len(args) == 1 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			table, err = auth.ParsePermissionTable(data)
			if err != nil {
				return err
			}
		}

		objects, err := storage.New(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(cmd.Context()); err != nil {
			return err
		}

		key := permissionsPublishKey
		if key == "" {
			key = cfg.Permissions.ObjectKey
		}
		if err := policy.Publish(cmd.Context(), objects, key, table); err != nil {
			return err
		}
		logger.Info("permission table published",
			slog.String("bucket", objects.Bucket()),
			slog.String("key", key),
			slog.String("version", table.Version),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsShowCmd, permissionsPublishCmd)
	permissionsPublishCmd.Flags().StringVar(&permissionsPublishKey, "key", "", "object key (defaults to PERMISSIONS_OBJECT_KEY)")
}
