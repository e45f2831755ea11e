package main

import (
	"fmt"
	"os"
	"strings"

	"deployhook/internal/install"
	"deployhook/internal/target"

	"github.com/spf13/cobra"
)

var (
	hookConfigFile string
	hookRepo       string
	hookBaseURL    string
	hookTarget     string
	hookToken      string
	hookAPIURL     string
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Register a GitHub webhook for a target",
	Long: `Create a pull_request webhook on a GitHub repository pointing at the route
of a configured target. The target's secret is used as the webhook secret.
Nothing is created if a hook with the same URL already exists.`,
	Example: `  deployhook hook --repo acme/shop --target shop --url https://deploy.example.com`,
	RunE:    runHook,
}

func init() {
	hookCmd.Flags().StringVarP(&hookConfigFile, "config", "c", getEnvOrDefault("DEPLOYHOOK_CONFIG", ""), "Path to deployhook.yaml configuration file")
	hookCmd.Flags().StringVar(&hookRepo, "repo", "", "GitHub repository (owner/repo)")
	hookCmd.Flags().StringVar(&hookBaseURL, "url", "", "Public base URL of this server")
	hookCmd.Flags().StringVar(&hookTarget, "target", "", "Target name from the configuration")
	hookCmd.Flags().StringVar(&hookToken, "token", "", "GitHub personal access token (default $GITHUB_TOKEN)")
	hookCmd.Flags().StringVar(&hookAPIURL, "api-url", "", "GitHub API base URL for GitHub Enterprise")

	hookCmd.MarkFlagRequired("repo")
	hookCmd.MarkFlagRequired("url")
	hookCmd.MarkFlagRequired("target")
}

func runHook(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(hookConfigFile)
	if err != nil {
		return err
	}

	t, err := target.NewRegistry(cfg.Targets).Get(hookTarget)
	if err != nil {
		return err
	}

	token := hookToken
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	printer := install.NewPrinter(cmd.OutOrStdout())
	client, err := install.NewGitHubClient(cmd.Context(), token, printer)
	if err != nil {
		return err
	}
	if hookAPIURL != "" {
		if err := client.SetBaseURL(hookAPIURL); err != nil {
			return err
		}
	}

	hookURL := strings.TrimRight(hookBaseURL, "/") + t.Path
	created, err := client.EnsureWebhook(cmd.Context(), install.WebhookRequest{
		OwnerRepo: hookRepo,
		URL:       hookURL,
		Secret:    t.Secret,
	})
	if err != nil {
		return err
	}
	if created {
		printer.Success(fmt.Sprintf("Webhook created for %s -> %s", hookRepo, hookURL))
	}
	return nil
}
