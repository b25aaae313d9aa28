package trackersync

import (
	"fmt"
	"time"

	"github.com/jordanhubbard/ouroboros/pkg/models"
)

const (
	titlePrefix     = "🤖 Agent Task: "
	titleMaxRunes   = 100
	labelCompleted  = "status:completed"
	labelFailed     = "status:failed"
	defaultCreator  = "System"
	timestampLayout = time.RFC3339
)

// IssueTitle truncates long descriptions to 100 characters plus an ellipsis.
func IssueTitle(item *models.WorkItem) string {
	desc := []rune(item.Description)
	if len(desc) > titleMaxRunes {
		return titlePrefix + string(desc[:titleMaxRunes]) + "..."
	}
	return titlePrefix + item.Description
}

// IssueBody renders the markdown body of a new tracker issue.
func IssueBody(item *models.WorkItem) string {
	creator := item.CreatedBy
	if creator == "" {
		creator = defaultCreator
	}
	return fmt.Sprintf(`## Agent Goal Proposal

**Description:** %s

**Status:** %s
**Created by:** %s
**Created at:** %s
**Proposal ID:** %s

---
*This issue was automatically created by the Agent Observability system to track goal proposal execution.*
`, item.Description, item.Status.Label(), creator, item.CreatedAt.UTC().Format(timestampLayout), item.ID)
}

// StatusComment announces a non-terminal status change.
func StatusComment(item *models.WorkItem) string {
	return fmt.Sprintf("🤖 **Status Update:** Task moved to **%s** at %s",
		item.Status.Label(), item.UpdatedAt.UTC().Format(timestampLayout))
}

// FinalComment summarises a terminal item before its issue is closed.
func FinalComment(item *models.WorkItem) string {
	emoji := "❌"
	if item.Status == models.WorkItemStatusCompleted {
		emoji = "✅"
	}
	return fmt.Sprintf("%s **Task %s** at %s\n\n*This issue is now closed as the goal proposal has reached its final state.*",
		emoji, string(item.Status), item.UpdatedAt.UTC().Format(timestampLayout))
}

func statusLabel(status models.WorkItemStatus) string {
	if status == models.WorkItemStatusCompleted {
		return labelCompleted
	}
	return labelFailed
}
