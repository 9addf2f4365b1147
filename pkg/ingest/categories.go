package ingest

import "strings"

// Category is the closed set of buckets a memory can be filed into. Anything
// the extractor labels with an unrecognized kind lands in CategoryInbox.
type Category int

const (
	CategoryInbox Category = iota
	CategoryPreferences
	CategoryPeople
	CategoryCommitments
	CategoryDecisions
	CategoryKnowledge
	CategoryResources
	CategoryEvents
	CategoryProjects
)

var categoryIDs = map[Category]string{
	CategoryInbox:       "cat_inbox",
	CategoryPreferences: "cat_preferences",
	CategoryPeople:      "cat_people",
	CategoryCommitments: "cat_commitments",
	CategoryDecisions:   "cat_decisions",
	CategoryKnowledge:   "cat_knowledge",
	CategoryResources:   "cat_resources",
	CategoryEvents:      "cat_events",
	CategoryProjects:    "cat_projects",
}

// ID returns the stable category identifier used in assignment rows.
func (c Category) ID() string {
	if id, ok := categoryIDs[c]; ok {
		return id
	}
	return "cat_inbox"
}

func (c Category) String() string {
	return strings.TrimPrefix(c.ID(), "cat_")
}

// CategoryForKind maps an extracted fact kind to its bucket, case-insensitive.
func CategoryForKind(kind string) Category {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "preferences", "preference":
		return CategoryPreferences
	case "people", "person":
		return CategoryPeople
	case "commitments", "commitment":
		return CategoryCommitments
	case "decisions", "decision":
		return CategoryDecisions
	case "knowledge", "fact", "facts":
		return CategoryKnowledge
	case "resources", "resource":
		return CategoryResources
	case "events", "event":
		return CategoryEvents
	case "projects", "project":
		return CategoryProjects
	default:
		return CategoryInbox
	}
}

// CategoryForBucket parses an organizer-supplied bucket name. It accepts the
// same vocabulary as CategoryForKind plus the bare "inbox".
func CategoryForBucket(bucket string) Category {
	if strings.EqualFold(strings.TrimSpace(bucket), "inbox") {
		return CategoryInbox
	}
	return CategoryForKind(bucket)
}
