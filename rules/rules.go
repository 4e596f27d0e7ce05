package rules

import (
	"context"
	"strings"

	"github.com/herald-io/herald/model"
)

// Tables the rules inspect.
const (
	TableStories      = "stories"
	TableReactions    = "reactions"
	TableBookmarks    = "bookmarks"
	TableJoinRequests = "join_requests"
)

// Notification types produced here. Reaction notifications use the
// reaction's own type value (like, push, merge, ...).
const (
	TypeCoauthor    = "coauthor"
	TypeStory       = "story"
	TypeMention     = "mention"
	TypeBookmark    = "bookmark"
	TypeJoinRequest = "join_request"
)

// DefaultRules returns the ordered rule list. Each rule is a pure function
// of the event; order only affects insert order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "coauthor-added", Apply: coauthorAdded},
		{Name: "story-published", Apply: storyPublished},
		{Name: "reaction-published", Apply: reactionPublished},
		{Name: "user-mentioned", Apply: userMentioned},
		{Name: "bookmark-sent", Apply: bookmarkSent},
		{Name: "project-join-requested", Apply: projectJoinRequested},
	}
}

// justPublished reports whether this event flips the record's publish time
// from unset to set.
func justPublished(ev *model.ChangeEvent) bool {
	if !ev.Changed("ptime") {
		return false
	}
	cur, ok := model.AsInt64(ev.Current["ptime"])
	if !ok || cur == 0 {
		return false
	}
	prev, _ := model.AsInt64(ev.Previous["ptime"])
	return prev == 0
}

// published reports whether the record carries a publish time.
func published(ev *model.ChangeEvent) bool {
	cur, ok := model.AsInt64(ev.Current["ptime"])
	return ok && cur > 0
}

// coauthorAdded fires when a story's user_ids list grows. The acting user
// is the story's first existing owner; each newly listed user is a target.
func coauthorAdded(_ context.Context, _ *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableStories || !ev.Changed("user_ids") {
		return nil, nil
	}

	prev := model.AsInt64Slice(ev.Previous["user_ids"])
	if len(prev) == 0 {
		// Initial ownership on insert is not a coauthor addition.
		return nil, nil
	}
	cur := model.AsInt64Slice(ev.Current["user_ids"])

	existing := make(map[int64]bool, len(prev))
	for _, id := range prev {
		existing[id] = true
	}

	storyType, _ := model.AsString(ev.Current["type"])
	actor := prev[0]

	var out []Candidate
	for _, id := range cur {
		if existing[id] {
			continue
		}
		out = append(out, Candidate{Notification: &model.Notification{
			Schema:       ev.Schema,
			Type:         TypeCoauthor,
			StoryID:      ev.ID,
			UserID:       actor,
			TargetUserID: id,
			Details:      map[string]any{"story_type": storyType},
		}})
	}
	return out, nil
}

// storyPublished fires once per story publish, targeting the story's other
// coauthors. The preference discriminant is the story type.
func storyPublished(_ context.Context, _ *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableStories || !justPublished(ev) {
		return nil, nil
	}

	ids := model.AsInt64Slice(ev.Current["user_ids"])
	if len(ids) == 0 {
		return nil, nil
	}
	actor := ids[0]
	storyType, _ := model.AsString(ev.Current["type"])

	details := map[string]any{"story_type": storyType}
	for _, count := range []string{"photos", "videos", "audios"} {
		if n, ok := model.AsInt64(ev.Current[count]); ok && n > 0 {
			details[count] = n
		}
	}

	var out []Candidate
	for _, id := range ids[1:] {
		out = append(out, Candidate{
			Notification: &model.Notification{
				Schema:       ev.Schema,
				Type:         TypeStory,
				StoryID:      ev.ID,
				UserID:       actor,
				TargetUserID: id,
				Details:      details,
			},
			Discriminant: storyType,
		})
	}
	return out, nil
}

// reactionPublished fires once per reaction publish, targeting the owners
// of the story reacted to. Notification type is the reaction's type; the
// discriminant is the branch name for push/merge reactions.
func reactionPublished(ctx context.Context, env *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableReactions || !justPublished(ev) {
		return nil, nil
	}

	actor, ok := model.AsInt64(ev.Current["user_id"])
	if !ok {
		return nil, nil
	}
	reactionType, _ := model.AsString(ev.Current["type"])
	if reactionType == "" {
		return nil, nil
	}

	storyID, ok := model.AsInt64(ev.Current["story_id"])
	if !ok {
		return nil, nil
	}
	story, err := env.Stories.Story(ctx, ev.Schema, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil || story.Deleted {
		return nil, nil
	}

	details := map[string]any{
		"story_type":    story.Type,
		"reaction_type": reactionType,
	}
	var discriminant string
	if branch, ok := model.AsString(ev.Current["branch"]); ok && branch != "" {
		details["branch"] = branch
		if reactionType == "push" || reactionType == "merge" {
			discriminant = branch
		}
	}

	var out []Candidate
	for _, id := range story.UserIDs {
		out = append(out, Candidate{
			Notification: &model.Notification{
				Schema:       ev.Schema,
				Type:         reactionType,
				StoryID:      storyID,
				ReactionID:   ev.ID,
				UserID:       actor,
				TargetUserID: id,
				Details:      details,
			},
			Discriminant: discriminant,
		})
	}
	return out, nil
}

// userMentioned scans tags for @username tokens. On publish every current
// mention counts; on an already-published record only newly added tags do.
func userMentioned(ctx context.Context, env *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableStories && ev.Table != TableReactions {
		return nil, nil
	}
	if !published(ev) {
		return nil, nil
	}

	var tags []string
	if justPublished(ev) {
		tags = model.AsStringSlice(ev.Current["tags"])
	} else {
		if !ev.Changed("tags") {
			return nil, nil
		}
		prev := make(map[string]bool)
		for _, t := range model.AsStringSlice(ev.Previous["tags"]) {
			prev[t] = true
		}
		for _, t := range model.AsStringSlice(ev.Current["tags"]) {
			if !prev[t] {
				tags = append(tags, t)
			}
		}
	}

	actor := actorOf(ev)
	storyID := ev.ID
	var reactionID int64
	if ev.Table == TableReactions {
		reactionID = ev.ID
		storyID, _ = model.AsInt64(ev.Current["story_id"])
	}
	storyType, _ := model.AsString(ev.Current["type"])

	var out []Candidate
	for _, tag := range tags {
		name, ok := strings.CutPrefix(tag, "@")
		if !ok || name == "" {
			continue
		}
		mentioned, err := env.Dir.UserByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if mentioned == nil {
			continue
		}
		out = append(out, Candidate{Notification: &model.Notification{
			Schema:       ev.Schema,
			Type:         TypeMention,
			StoryID:      storyID,
			ReactionID:   reactionID,
			UserID:       actor,
			TargetUserID: mentioned.ID,
			Details:      map[string]any{"story_type": storyType},
		}})
	}
	return out, nil
}

// bookmarkSent fires when a bookmark row is inserted for a recipient.
func bookmarkSent(_ context.Context, _ *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableBookmarks || ev.Op != model.OpInsert {
		return nil, nil
	}

	actor, ok := model.AsInt64(ev.Current["user_id"])
	if !ok {
		return nil, nil
	}
	target, ok := model.AsInt64(ev.Current["target_user_id"])
	if !ok {
		return nil, nil
	}
	storyID, _ := model.AsInt64(ev.Current["story_id"])

	details := map[string]any{}
	if title, ok := model.AsString(ev.Current["title"]); ok && title != "" {
		details["title"] = title
	}

	return []Candidate{{Notification: &model.Notification{
		Schema:       ev.Schema,
		Type:         TypeBookmark,
		StoryID:      storyID,
		UserID:       actor,
		TargetUserID: target,
		Details:      details,
	}}}, nil
}

// projectJoinRequested fires when a join request row is inserted and
// targets every administrator.
func projectJoinRequested(ctx context.Context, env *Env, ev *model.ChangeEvent) ([]Candidate, error) {
	if ev.Table != TableJoinRequests || ev.Op != model.OpInsert {
		return nil, nil
	}

	actor, ok := model.AsInt64(ev.Current["user_id"])
	if !ok {
		return nil, nil
	}

	users, err := env.Dir.Users(ctx)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"schema": ev.Schema}
	if name, ok := model.AsString(ev.Current["name"]); ok && name != "" {
		details["name"] = name
	}

	var out []Candidate
	for _, u := range users {
		if !u.Admin {
			continue
		}
		out = append(out, Candidate{Notification: &model.Notification{
			Schema:       ev.Schema,
			Type:         TypeJoinRequest,
			UserID:       actor,
			TargetUserID: u.ID,
			Details:      details,
		}})
	}
	return out, nil
}

// actorOf resolves the acting user for story and reaction events.
func actorOf(ev *model.ChangeEvent) int64 {
	if actor, ok := model.AsInt64(ev.Current["user_id"]); ok && actor != 0 {
		return actor
	}
	if ids := model.AsInt64Slice(ev.Current["user_ids"]); len(ids) > 0 {
		return ids[0]
	}
	return 0
}
