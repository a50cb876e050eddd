package lifecycle

import "strings"

// PromptSuffix is appended to every prompt.
const PromptSuffix = `

# Important

Any changes to this repository should be commited into git following git best
practices:
- use descriptive subject lines
- group logical changes together
`

// RenderPrompt substitutes {BRANCH} with the base branch and
// {WORKTREE_BRANCH} with the work branch, then appends PromptSuffix.
func RenderPrompt(text, base, work string) string {
	r := strings.NewReplacer("{BRANCH}", base, "{WORKTREE_BRANCH}", work)
	return r.Replace(text) + "\n" + PromptSuffix
}
