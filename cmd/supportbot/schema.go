package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chative-support/server/internal/sqlexec"
	"github.com/chative-support/server/pkg/database"
)

func newSchemaCmd(envFile *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description given to the query generator",
		Long:  "Describes the live database tables and join rules. Write it with --out and point SQL_SCHEMA_FILE at the file to pin it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBaseConfig(*envFile)
			if err != nil {
				return err
			}
			db, err := cfg.Database.Open()
			if err != nil {
				return err
			}
			defer database.Close(db)

			desc, err := sqlexec.LoadDescription(cmd.Context(), db, "", schemaTables...)
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), desc)
				return nil
			}
			if err := os.WriteFile(outPath, []byte(desc), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote schema description to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the description to a file instead of stdout")
	return cmd
}
