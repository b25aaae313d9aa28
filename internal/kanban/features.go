package kanban

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/ouroboros/internal/github"
	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// Feature projects are owner-level projects used to group large initiatives.
// Every operation here is a no-op returning the zero value when the tracker
// integration is disabled or unavailable.

// FeatureProjectReadme renders the readme of a feature project.
func FeatureProjectReadme(name, description string) string {
	return fmt.Sprintf(`## Feature Project

**Feature Name:** %s

**Description:** %s

**Project Type:** Large Feature Design and Tracking

---
`, name, description)
}

func (a *Adapter) ready(ctx context.Context, op string) bool {
	log := logging.Component("kanban")
	if !a.enabled.Load() {
		log.Debug().Str("op", op).Msg("tracker integration disabled, skipping")
		return false
	}
	if !a.tracker.IsAvailable(ctx) {
		log.Warn().Str("op", op).Msg("tracker not available, skipping")
		return false
	}
	return true
}

// CreateFeatureProject creates a project titled "Feature: <name>".
func (a *Adapter) CreateFeatureProject(ctx context.Context, name, description string) (*github.ProjectV2, error) {
	if !a.ready(ctx, "create feature project") {
		return nil, nil
	}
	project, err := a.tracker.CreateProjectV2(ctx, "Feature: "+name)
	if err != nil {
		return nil, fmt.Errorf("create feature project: %w", err)
	}
	log := logging.Component("kanban")
	if err := a.tracker.SetProjectV2Readme(ctx, project.Number, FeatureProjectReadme(name, description)); err != nil {
		log.Warn().Err(err).Int("project", project.Number).Msg("failed to set feature project readme")
	}
	log.Info().Int("project", project.Number).Str("feature", name).Msg("created feature project")
	return project, nil
}

// AddIssueToProject adds an issue to a feature project and returns the item id.
func (a *Adapter) AddIssueToProject(ctx context.Context, projectNumber int, issueURL string) (string, error) {
	if !a.ready(ctx, "add issue to project") {
		return "", nil
	}
	itemID, err := a.tracker.AddIssueToProjectV2(ctx, projectNumber, issueURL)
	if err != nil {
		return "", fmt.Errorf("add issue to project %d: %w", projectNumber, err)
	}
	return itemID, nil
}

// UpdateProjectItemStatus sets the status field of a project item.
func (a *Adapter) UpdateProjectItemStatus(ctx context.Context, s github.ProjectItemStatus) error {
	if !a.ready(ctx, "update project item status") {
		return nil
	}
	if err := a.tracker.UpdateProjectItemStatus(ctx, s); err != nil {
		return fmt.Errorf("update project item %s: %w", s.ItemID, err)
	}
	return nil
}
