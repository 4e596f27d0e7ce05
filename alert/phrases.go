package alert

// defaultPhrases is the embedded en-us phrase table. Locale packs override
// per type; "default" catches notification types without a phrase (custom
// reaction types).
func defaultPhrases() map[string]Phrase {
	return map[string]Phrase{
		"coauthor": {
			Title:   "Added as coauthor",
			Message: "{user} added you to a {story_type}",
		},
		"story": {
			Title:   "New {story_type}",
			Message: "{user} published a {story_type}",
		},
		"mention": {
			Title:   "You were mentioned",
			Message: "{user} mentioned you in a {story_type}",
		},
		"bookmark": {
			Title:   "Bookmark received",
			Message: "{user} sent you a bookmark {title}",
		},
		"join_request": {
			Title:   "Join request",
			Message: "{user} asked to join {schema}",
		},
		"like": {
			Title:   "New like",
			Message: "{user} liked your {story_type}",
		},
		"comment": {
			Title:   "New comment",
			Message: "{user} commented on your {story_type}",
		},
		"push": {
			Title:   "New push",
			Message: "{user} pushed to {branch}",
		},
		"merge": {
			Title:   "Merged",
			Message: "{user} merged {branch}",
		},
		"default": {
			Title:   "New activity",
			Message: "{user} reacted to your {story_type}",
		},
	}
}
