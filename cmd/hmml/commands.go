package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DrSmoothl/HMML2/internal/auth"
	"github.com/DrSmoothl/HMML2/internal/database"
)

func tokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the API access token",
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "regenerate",
		Short: "Replace the access token and print the new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}

			tokens := auth.NewTokenManager(cfg.Security.TokenFile, auth.DefaultParams, auth.NewAuditor(cfg.Security.AuditFile))
			if plain, err := tokens.Initialize(); err != nil {
				return err
			} else if plain != "" {
				// No token existed yet; the generated one is the new token.
				printToken(plain, cfg.Security.TokenFile)
				return nil
			}

			plain, err := tokens.Regenerate()
			if err != nil {
				return err
			}
			printToken(plain, cfg.Security.TokenFile)
			return nil
		},
	})

	return tokenCmd
}

func dbCommand() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect SQLite databases",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "info <path>",
		Short: "Print the tables of a database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}

			// A manager without discovery holds only the inspected file.
			const inspectName = "inspect"
			mcfg := managerConfig(cfg)
			dbManager := database.NewManager(nil, mcfg)
			if err := dbManager.Initialize(); err != nil {
				return err
			}
			defer dbManager.CloseAll()

			connCfg := database.DefaultConnectionConfig(args[0])
			connCfg.ReadOnly = true
			connCfg.TimeoutSeconds = mcfg.TimeoutSeconds
			if err := dbManager.AddConnection(inspectName, connCfg); err != nil {
				return err
			}

			info, err := dbManager.DatabaseInfo(inspectName)
			if err != nil {
				return err
			}
			conn := dbManager.GetOperator(inspectName).Connection()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d bytes, %d tables)\n\n", info.Path, info.Size, info.TableCount)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tCOLUMNS\tROWS")
			for _, name := range info.Tables {
				table, err := conn.GetTableInfo(name)
				if err != nil {
					return err
				}
				if table == nil {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\n", table.Name, table.ColumnCount, table.RowCount)
			}
			return tw.Flush()
		},
	})

	return dbCmd
}
