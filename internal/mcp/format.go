package mcp

import (
	"fmt"
	"strings"

	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/status"
)

// previewChars bounds the section text shown per result.
const previewChars = 600

// FormatResults renders a search response as markdown.
func FormatResults(query string, resp *search.Response) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No sections found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", query)
	fmt.Fprintf(&sb, "%d of %d matches • %s query • strategy %s",
		len(resp.Results), resp.Total, resp.Classification.Decision, resp.Metadata.Strategy)
	if resp.Metadata.CodeFilter != "" {
		fmt.Fprintf(&sb, " • code %s", resp.Metadata.CodeFilter)
	}
	sb.WriteString("\n")
	if resp.Metadata.Vector == search.StatusTimeout || resp.Metadata.Vector == search.StatusDown {
		fmt.Fprintf(&sb, "\n> Semantic search was %s; results are keyword matches only.\n", resp.Metadata.Vector)
	}
	if resp.Metadata.Lexical == search.StatusTimeout || resp.Metadata.Lexical == search.StatusDown {
		fmt.Fprintf(&sb, "\n> Keyword search was %s; results are semantic matches only.\n", resp.Metadata.Lexical)
	}
	if resp.Metadata.Documents == search.DocumentsPreview {
		sb.WriteString("\n> Full section text is unavailable; showing stored previews.\n")
	}

	for i, r := range resp.Results {
		d := r.Document
		fmt.Fprintf(&sb, "\n### %d. %s § %s", i+1, d.CodeAbbrev, d.Section)
		if d.Title != "" {
			fmt.Fprintf(&sb, " - %s", d.Title)
		}
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "*score %.4f%s*\n\n", r.FusedScore, matchReason(r.Contributions))
		sb.WriteString(preview(d.Content, previewChars))
		sb.WriteString("\n")
		if d.URL != "" {
			fmt.Fprintf(&sb, "\nSource: %s\n", d.URL)
		}
	}
	return sb.String()
}

// matchReason names the backends that ranked a result.
func matchReason(c search.Contributions) string {
	switch {
	case c.LexicalRank > 0 && c.VectorRank > 0:
		return fmt.Sprintf(", keyword #%d and semantic #%d", c.LexicalRank, c.VectorRank)
	case c.LexicalRank > 0:
		return fmt.Sprintf(", keyword #%d", c.LexicalRank)
	case c.VectorRank > 0:
		return fmt.Sprintf(", semantic #%d", c.VectorRank)
	default:
		return ""
	}
}

func preview(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// FormatStatus renders a status snapshot as markdown.
func FormatStatus(s *status.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Index status: %s\n\n", s.Target)
	fmt.Fprintf(&sb, "- Documents: %d\n", s.Documents)
	fmt.Fprintf(&sb, "- Vectors: %d\n", s.Vectors)
	if s.Watermark.IsZero() {
		sb.WriteString("- Watermark: never synced\n")
	} else {
		fmt.Fprintf(&sb, "- Watermark: %s\n", s.Watermark.UTC().Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(&sb, "- Failures: %d pending, %d exhausted\n", s.PendingFailures, s.ExhaustedFailures)
	fmt.Fprintf(&sb, "- Embedder: %s %s (%s)\n", s.EmbedderType, s.EmbedderModel, s.EmbedderStatus)
	if r := s.LastRun; r != nil {
		fmt.Fprintf(&sb, "- Last run: %s %s, %d committed, %d failed\n", r.Mode, r.Status, r.Committed, r.Failed)
	}
	return sb.String()
}
