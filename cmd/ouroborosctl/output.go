package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/jordanhubbard/ouroboros/pkg/models"
)

var (
	statusColors = map[models.WorkItemStatus]*color.Color{
		models.WorkItemStatusPending:    color.New(color.FgCyan),
		models.WorkItemStatusInProgress: color.New(color.FgYellow),
		models.WorkItemStatusCompleted:  color.New(color.FgGreen),
		models.WorkItemStatusFailed:     color.New(color.FgRed),
	}
	dim = color.New(color.Faint)
)

func statusLabel(s models.WorkItemStatus) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s.Label())
	}
	return string(s)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// printWorkItems renders a list response as a table.
func printWorkItems(out io.Writer, data []byte) error {
	var resp struct {
		WorkItems []models.WorkItem `json:"work_items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode work items: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tISSUE\tUPDATED\tDESCRIPTION")
	for _, item := range resp.WorkItems {
		issue := dim.Sprint("-")
		if item.IsLinked() {
			issue = fmt.Sprintf("#%d", item.TrackerID())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.ID[:min(8, len(item.ID))],
			statusLabel(item.Status),
			issue,
			item.UpdatedAt.Local().Format(time.DateTime),
			shorten(item.Description, 60))
	}
	return w.Flush()
}

// printBackends renders the backend status list as a table.
func printBackends(out io.Writer, data []byte) error {
	var resp struct {
		Backends []struct {
			ModelID   string `json:"model_id"`
			Available bool   `json:"available"`
			Default   bool   `json:"default"`
		} `json:"backends"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode backends: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tAVAILABLE\tDEFAULT")
	for _, b := range resp.Backends {
		avail := color.New(color.FgRed).Sprint("no")
		if b.Available {
			avail = color.New(color.FgGreen).Sprint("yes")
		}
		def := ""
		if b.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.ModelID, avail, def)
	}
	return w.Flush()
}
