// Package install registers deployhook with source-control hosts.
package install

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// HookEvents are the GitHub events deployhook acts on.
var HookEvents = []string{"pull_request"}

// WebhookRequest describes the repository webhook to register.
type WebhookRequest struct {
	OwnerRepo string // "owner/repo"
	URL       string // public URL of the target's route
	Secret    string
}

// GitHubClient registers repository webhooks through the GitHub API.
type GitHubClient struct {
	client  *github.Client
	printer *Printer
}

// NewGitHubClient creates a client authenticated with a personal access
// token.
func NewGitHubClient(ctx context.Context, token string, printer *Printer) (*GitHubClient, error) {
	if token == "" {
		return nil, fmt.Errorf("a GitHub token is required")
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &GitHubClient{client: github.NewClient(tc), printer: printer}, nil
}

// SetBaseURL points the client at a GitHub Enterprise or test API root.
func (c *GitHubClient) SetBaseURL(rawURL string) error {
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	c.client.BaseURL = u
	return nil
}

// SplitOwnerRepo parses "owner/repo".
func SplitOwnerRepo(ownerRepo string) (string, string, error) {
	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}
	return parts[0], parts[1], nil
}

// EnsureWebhook creates a pull_request webhook for req.URL unless the
// repository already has a hook with that URL. It reports whether a hook
// was created.
func (c *GitHubClient) EnsureWebhook(ctx context.Context, req WebhookRequest) (bool, error) {
	owner, repo, err := SplitOwnerRepo(req.OwnerRepo)
	if err != nil {
		return false, err
	}
	if req.Secret == "" {
		return false, fmt.Errorf("webhook secret is required")
	}

	hooks, _, err := c.client.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return false, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.Config != nil {
			if u, ok := hook.Config["url"].(string); ok && u == req.URL {
				c.printer.Success("Webhook already exists on GitHub...")
				return false, nil
			}
		}
	}

	c.printer.Step("Creating GitHub webhook...")

	hookConfig := map[string]interface{}{
		"url":          req.URL,
		"content_type": "json",
		"secret":       req.Secret,
		"insecure_ssl": "0",
	}

	active := true
	hookReq := &github.Hook{
		Events: HookEvents,
		Active: &active,
		Config: hookConfig,
	}

	if _, _, err := c.client.Repositories.CreateHook(ctx, owner, repo, hookReq); err != nil {
		c.printer.Fail()
		return false, fmt.Errorf("creating webhook: %w", err)
	}

	c.printer.OK()
	return true, nil
}
