package main

import (
	"fmt"

	"deployhook/internal/target"
	"deployhook/pkg/fileutil"

	"github.com/spf13/cobra"
)

var validateConfigFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load deployhook.yaml, apply DEPLOYHOOK_* environment overrides and report
every problem found. On success a summary of the environments and target
routes is printed.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", getEnvOrDefault("DEPLOYHOOK_CONFIG", ""), "Path to deployhook.yaml configuration file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(validateConfigFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK: %s\n", path)
	fmt.Fprintf(out, "  Listen:      %s:%d\n", cfg.Host, cfg.Port)
	fmt.Fprintf(out, "  Timeout:     %s\n", cfg.Timeout)
	logDir := cfg.LogDir
	if !fileutil.DirExists(logDir) {
		logDir += " (created on first write)"
	}
	fmt.Fprintf(out, "  Event log:   %s (%s)\n", logDir, cfg.Location)
	fmt.Fprintf(out, "  Test:        branch %s, build %s\n", cfg.Test.Branch, cfg.Test.BuildScript)
	fmt.Fprintf(out, "  Production:  branch %s, build %s\n", cfg.Production.Branch, cfg.Production.BuildScript)

	registry := target.NewRegistry(cfg.Targets)
	fmt.Fprintf(out, "  Targets:     %d\n", registry.Count())
	for _, t := range registry.All() {
		fmt.Fprintf(out, "    %-16s %s -> %s\n", t.Name, t.Path, t.PM2AppName)
	}

	for _, w := range secretWarnings(cfg) {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return nil
}
