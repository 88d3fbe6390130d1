package dispatch

import (
	"fmt"
	"strings"

	"gofer/internal/domain"
)

// renderView formats a request and its tasks the way the chat gateway
// displays them: a content line naming the creator, then one line per
// task in weight order. Completed tasks are struck through and annotated
// with who finished them and when.
func (d *Dispatcher) renderView(view domain.RequestView) Response {
	mention := func(externalID string) string {
		return fmt.Sprintf(d.Config.Report.MentionFormat, externalID)
	}
	lines := make([]string, 0, len(view.Tasks))
	for _, tv := range view.Tasks {
		t := tv.Task
		var b strings.Builder
		if t.Completed() {
			fmt.Fprintf(&b, "%d. ~~%s~~, completed at %s", t.Weight, t.Title, *t.CompletedAt)
		} else if t.StartedAt != nil {
			fmt.Fprintf(&b, "%d. %s, claimed at %s", t.Weight, t.Title, *t.StartedAt)
		} else {
			fmt.Fprintf(&b, "%d. %s", t.Weight, t.Title)
		}
		if tv.Assignee != nil && (t.Completed() || t.StartedAt != nil) {
			fmt.Fprintf(&b, " by %s", mention(tv.Assignee.ExternalID))
		}
		lines = append(lines, b.String())
	}
	return Response{
		Content: fmt.Sprintf("Request by %s: %s", mention(view.Creator.ExternalID), view.Request.Title),
		Lines:   lines,
	}
}
