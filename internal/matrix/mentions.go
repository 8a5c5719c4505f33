// ABOUTME: Detection and removal of bot mentions in message bodies
// ABOUTME: Handles m.mentions, raw user IDs, and display name pill fallbacks

package matrix

import (
	"slices"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// mentionsBot reports whether a room message is addressed to the bot.
func mentionsBot(body string, mentions *event.Mentions, userID id.UserID, displayName string) bool {
	if mentions != nil && slices.Contains(mentions.UserIDs, userID) {
		return true
	}
	if strings.Contains(strings.ToLower(body), strings.ToLower(userID.String())) {
		return true
	}
	_, ok := cutNamePrefix(body, displayName)
	return ok
}

// stripMention removes the bot's user ID and a leading display name from body.
// Example: "GPT: what is a goroutine?" -> "what is a goroutine?"
func stripMention(body string, userID id.UserID, displayName string) string {
	s := body
	if uid := userID.String(); uid != "" {
		s = replaceFold(s, uid, "")
	}
	s = strings.TrimSpace(s)
	if rest, ok := cutNamePrefix(s, displayName); ok {
		s = rest
	}
	s = strings.TrimLeft(s, ":, ")
	return strings.TrimSpace(s)
}

// stripPillMention is stripMention for messages whose m.mentions names the bot.
// A client pill leaves the display name anywhere in the body, so a standalone
// occurrence is removed when there was no leading one.
func stripPillMention(body string, userID id.UserID, displayName string) string {
	s := stripMention(body, userID, displayName)
	lead := strings.TrimSpace(replaceFold(body, userID.String(), ""))
	if _, ok := cutNamePrefix(lead, displayName); ok {
		return s
	}
	return strings.TrimSpace(removeNamePill(s, displayName))
}

// isReply reports whether content is a real reply rather than a thread
// message carrying a fallback in_reply_to.
func isReply(content *event.MessageEventContent) bool {
	rel := content.RelatesTo
	return rel != nil && rel.InReplyTo != nil && rel.InReplyTo.EventID != "" && !rel.IsFallingBack
}

// trimReplyFallback drops the "> " quote lines a client prepends to a reply.
func trimReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == 0 {
		return body
	}
	return strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
}

// removeNamePill removes the first standalone occurrence of name from s.
func removeNamePill(s, name string) string {
	if name == "" {
		return s
	}
	lower, target := strings.ToLower(s), strings.ToLower(name)
	if len(lower) != len(s) || len(target) != len(name) {
		return s
	}

	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], target)
		if i < 0 {
			return s
		}
		i += from
		end := i + len(name)
		before := i == 0 || strings.IndexByte(" \t\n@", s[i-1]) >= 0
		after := end == len(s) || strings.IndexByte(" \t\n:,?!.", s[end]) >= 0
		if before && after {
			left := strings.TrimRight(strings.TrimSuffix(s[:i], "@"), " \t,")
			right := strings.TrimLeft(strings.TrimLeft(s[end:], ":,"), " \t")
			switch {
			case left == "":
				return right
			case right == "":
				return left
			case strings.HasPrefix(right, "\n") || strings.IndexByte("?!.", right[0]) >= 0:
				return left + right
			}
			return left + " " + right
		}
		from = i + 1
	}
	return s
}

// cutNamePrefix removes "name:", "name," or "@name " from the start of s.
func cutNamePrefix(s, name string) (string, bool) {
	if name == "" {
		return s, false
	}
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, "@")
	if len(t) < len(name) || !strings.EqualFold(t[:len(name)], name) {
		return s, false
	}
	rest := t[len(name):]
	if rest == "" {
		return "", true
	}
	switch rest[0] {
	case ':', ',':
		return strings.TrimSpace(rest[1:]), true
	case ' ', '\n', '\t':
		// Only "@name text" counts without punctuation.
		if strings.HasPrefix(strings.TrimSpace(s), "@") {
			return strings.TrimSpace(rest), true
		}
	}
	return s, false
}

// replaceFold replaces every case-insensitive occurrence of old in s.
func replaceFold(s, old, replacement string) string {
	if old == "" {
		return s
	}
	lower := strings.ToLower(s)
	target := strings.ToLower(old)
	if len(lower) != len(s) || len(target) != len(old) {
		return strings.ReplaceAll(s, old, replacement)
	}

	var b strings.Builder
	i := 0
	for {
		j := strings.Index(lower[i:], target)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		b.WriteString(s[i : i+j])
		b.WriteString(replacement)
		i += j + len(old)
	}
}
