// Package policy is the single source of truth for knowledge-boundary
// enforcement. Both retrieval and consistency auditing call Visible rather
// than carrying their own visibility branching.
package policy

import "github.com/sekailabs/sekai-memory/internal/model"

// ViewerContext identifies who is asking and at which chapter.
type ViewerContext struct {
	// Participants are the entity ids present in the querying context:
	// the character(s) and/or the user id.
	Participants []string `json:"participants"`
	// Chapter is the story position the query is made from.
	Chapter int `json:"chapter"`
}

// Visible reports whether the record may be shown to the viewer.
//
// Rules:
//   - WM: visible to any viewer once its chapter has been reached.
//   - C2U: visible only to exactly the same character-and-user pair.
//   - IC: visible to viewers sharing a participant with the record, and only
//     once the interaction has happened. A character cannot know an
//     interaction before its chapter, even if another character already does.
func Visible(r *model.MemoryRecord, v ViewerContext) bool {
	switch r.MemType {
	case model.MemWM:
		return r.ChapterStart <= v.Chapter
	case model.MemC2U:
		return r.SubjectSetEqual(v.Participants)
	case model.MemIC:
		if v.Chapter < r.ChapterStart {
			return false
		}
		for _, p := range v.Participants {
			if r.HasSubject(p) {
				return true
			}
		}
		return false
	}
	return false
}
