package main

import (
	"fmt"
	"os"

	"github.com/ashureev/gatekeeper/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective challenge rules as YAML",
	Long: `Prints the rules the server would start with: the defaults, or the file
named by --rules or RULES_PATH. The output is a valid rules file and can
be edited and passed back with --rules.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rules, err := config.LoadRules(rulesPath(cmd))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(rules); err != nil {
			return fmt.Errorf("encode rules: %w", err)
		}
		return enc.Close()
	},
}

// rulesPath returns the --rules flag, falling back to RULES_PATH.
func rulesPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("rules"); p != "" {
		return p
	}
	return os.Getenv("RULES_PATH")
}
