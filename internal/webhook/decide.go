package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// Event types that can trigger a deploy.
const (
	GitHubPullRequestEvent = "pull_request"
	GiteeMergeRequestEvent = "Merge Request Hook"
)

const (
	githubClosedAction = "closed"
	giteeMergeAction   = "merge"
)

// Decision is the result of evaluating an event against a branch.
type Decision struct {
	Deploy   bool
	Reason   string
	SourceID int // PR number or MR iid, zero when unknown
}

func ignore(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// giteeMergeRequest holds the fields of a Gitee "Merge Request Hook" payload
// used for the decision.
type giteeMergeRequest struct {
	Action       string `json:"action"`
	IID          int    `json:"iid"`
	TargetBranch string `json:"target_branch"`
}

// Decide reports whether ev is a merge into branch. It has no side effects.
func Decide(ev Event, branch string) Decision {
	switch ev.Provider {
	case GitHub:
		return decideGitHub(ev, branch)
	case Gitee:
		return decideGitee(ev, branch)
	default:
		return ignore("unsupported provider %q", ev.Provider)
	}
}

func decideGitHub(ev Event, branch string) Decision {
	if ev.Type != GitHubPullRequestEvent {
		return ignore("event type %q does not trigger deploys", ev.Type)
	}

	parsed, err := github.ParseWebHook(ev.Type, ev.Body)
	if err != nil {
		return ignore("malformed %s payload: %v", ev.Type, err)
	}
	pr, ok := parsed.(*github.PullRequestEvent)
	if !ok {
		return ignore("unexpected payload type %T", parsed)
	}

	number := pr.GetNumber()
	if pr.GetAction() != githubClosedAction {
		return Decision{Reason: fmt.Sprintf("PR #%d action %q is not %q", number, pr.GetAction(), githubClosedAction), SourceID: number}
	}
	if !pr.GetPullRequest().GetMerged() {
		return Decision{Reason: fmt.Sprintf("PR #%d was closed without merging", number), SourceID: number}
	}
	if base := pr.GetPullRequest().GetBase().GetRef(); base != branch {
		return Decision{Reason: fmt.Sprintf("PR #%d merged into %q, deploy branch is %q", number, base, branch), SourceID: number}
	}

	return Decision{
		Deploy:   true,
		Reason:   fmt.Sprintf("GitHub PR #%d merged into %s", number, branch),
		SourceID: number,
	}
}

func decideGitee(ev Event, branch string) Decision {
	if ev.Type != GiteeMergeRequestEvent {
		return ignore("event type %q does not trigger deploys", ev.Type)
	}

	var mr giteeMergeRequest
	if err := json.Unmarshal(ev.Body, &mr); err != nil {
		return ignore("malformed %s payload: %v", ev.Type, err)
	}

	if mr.Action != giteeMergeAction {
		return Decision{Reason: fmt.Sprintf("MR #%d action %q is not %q", mr.IID, mr.Action, giteeMergeAction), SourceID: mr.IID}
	}
	if mr.TargetBranch != branch {
		return Decision{Reason: fmt.Sprintf("MR #%d merged into %q, deploy branch is %q", mr.IID, mr.TargetBranch, branch), SourceID: mr.IID}
	}

	return Decision{
		Deploy:   true,
		Reason:   fmt.Sprintf("Gitee MR #%d merged into %s", mr.IID, branch),
		SourceID: mr.IID,
	}
}
