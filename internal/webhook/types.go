package webhook

// GitLabWebhook is the tag-push payload, translated field for field
// from original_source/webhook.py's GitLabWebhook/GitLabProject/
// GitLabCommit Pydantic models. Only the fields INAU's admission
// filter and notify-set construction actually consume are kept; the
// original's `extra='allow'` looseness has no equivalent here since Go
// JSON decoding already ignores unknown fields.
type GitLabWebhook struct {
	ObjectKind   string         `json:"object_kind"`
	Before       string         `json:"before"`
	After        string         `json:"after"`
	Ref          string         `json:"ref"`
	UserUsername string         `json:"user_username"`
	UserEmail    string         `json:"user_email"`
	Project      GitLabProject  `json:"project"`
	Commits      []GitLabCommit `json:"commits"`
}

type GitLabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	SSHURL            string `json:"ssh_url"`
}

type GitLabCommit struct {
	ID     string             `json:"id"`
	Author GitLabCommitAuthor `json:"author"`
}

type GitLabCommitAuthor struct {
	Email string `json:"email"`
}

const zeroSHA = "0000000000000000000000000000000000000000"

// tagFromRef extracts the tag name from a "refs/tags/<name>" ref,
// returning ("", false) for anything else — the Go form of
// extract_tag_from_ref.
func tagFromRef(ref string) (string, bool) {
	const prefix = "refs/tags/"
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return "", false
	}
	return ref[len(prefix):], true
}

// admit runs the four-stage admission filter spec.md §4.3 names,
// returning the extracted tag and an ignoreReason ("" if admitted).
func admit(w GitLabWebhook) (tag string, ignoreReason string, badRef bool) {
	if w.ObjectKind != "tag_push" {
		return "", "not a tag push event", false
	}
	if w.After == zeroSHA {
		return "", "tag deletion", false
	}
	tag, ok := tagFromRef(w.Ref)
	if !ok {
		return "", "", true
	}
	if len(w.Commits) > 0 && w.After == w.Commits[0].ID {
		return "", "lightweight tag", false
	}
	return tag, "", false
}

// notifySet builds {commits[0].author.email, user_username@domain,
// user_email}, empty entries filtered, matching webhook.py's
// schedule_builds emails list (generalized from the original's
// hardcoded "@elettra.eu" to a configured domain).
func notifySet(w GitLabWebhook, domain string) []string {
	var out []string
	if len(w.Commits) > 0 && w.Commits[0].Author.Email != "" {
		out = append(out, w.Commits[0].Author.Email)
	}
	if w.UserUsername != "" && domain != "" {
		out = append(out, w.UserUsername+"@"+domain)
	}
	if w.UserEmail != "" {
		out = append(out, w.UserEmail)
	}
	return out
}
