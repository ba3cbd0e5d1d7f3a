package workflow

// Event types a workflow can be triggered by.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Event is a repository event delivered to the event ingest endpoint.
// Branch is the pushed branch for push events and the head branch for
// pull_request events. Base is only set for pull_request events.
type Event struct {
	Type   string `json:"type"`
	Branch string `json:"branch"`
	Base   string `json:"base,omitempty"`
	SHA    string `json:"sha"`
}

// Triggers holds the trigger rules of a workflow. A nil rule means the
// workflow doesn't react to that event type at all.
type Triggers struct {
	Push        *PushTrigger        `yaml:"push" json:"push,omitempty"`
	PullRequest *PullRequestTrigger `yaml:"pull_request" json:"pull_request,omitempty"`
}

// PushTrigger matches push events by the pushed branch name.
type PushTrigger struct {
	Branches []string `yaml:"branches" json:"branches"`
}

// PullRequestTrigger matches pull_request events by the base branch
// the pull request targets.
type PullRequestTrigger struct {
	Branches []string `yaml:"branches" json:"branches"`
}

// Match reports whether ev should trigger a run. Branch names are
// compared literally, there is no pattern matching.
func (t Triggers) Match(ev Event) bool {
	switch ev.Type {
	case EventPush:
		if t.Push == nil {
			return false
		}

		return contains(t.Push.Branches, ev.Branch)
	case EventPullRequest:
		if t.PullRequest == nil {
			return false
		}

		return contains(t.PullRequest.Branches, ev.Base)
	default:
		return false
	}
}

func contains(branches []string, name string) bool {
	for _, branch := range branches {
		if branch == name {
			return true
		}
	}

	return false
}
