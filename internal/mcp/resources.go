package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const sectionURIPrefix = "legalcodes://sections/"

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: sectionURIPrefix + "{documentId}",
		Name:        "section",
		Description: "Full text of one legal code section, by document ID (for example fam-3044)",
		MIMEType:    "text/markdown",
	}, s.handleSectionResource)
}

// documentIDFromURI extracts the ID from legalcodes://sections/{id}.
func documentIDFromURI(uri string) string {
	id, ok := strings.CutPrefix(uri, sectionURIPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (s *Server) handleSectionResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id := documentIDFromURI(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	docs, err := s.fetcher.Fetch(ctx, []string{id})
	if err != nil {
		return nil, MapError(err)
	}
	if len(docs) == 0 {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	d := docs[0]

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s § %s\n\n", d.CodeAbbrev, d.Section)
	if d.Title != "" {
		fmt.Fprintf(&sb, "**%s**\n\n", d.Title)
	}
	for _, part := range []struct{ label, v string }{
		{"Division", d.Division}, {"Part", d.Part}, {"Chapter", d.Chapter},
	} {
		if part.v != "" {
			fmt.Fprintf(&sb, "%s: %s  \n", part.label, part.v)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(d.Content)
	sb.WriteString("\n")
	if d.URL != "" {
		fmt.Fprintf(&sb, "\nSource: %s\n", d.URL)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     sb.String(),
		}},
	}, nil
}
