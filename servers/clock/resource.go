package clock

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
	"github.com/gobwas/glob"
)

const (
	continentArgument   = "continent"
	maxCompletionValues = 100
	textMimeType        = "text/plain"
)

var (
	resourceList = []mcp.Resource{
		{
			URI:         continentsURI,
			Name:        "available_continents",
			Description: "List of available continents/regions with timezone counts.",
			MimeType:    textMimeType,
		},
	}

	templateList = []mcp.ResourceTemplate{
		{
			URITemplate: continentsURITemplate,
			Name:        "continent_timezones",
			Description: "List timezones for a specific continent.",
			MimeType:    textMimeType,
		},
	}

	errResourceNotFound = errors.New("resource not found")
)

// ListResources implements mcp.ResourceServer interface.
func (s *Server) ListResources(
	context.Context,
	mcp.ListResourcesParams,
	mcp.ProgressReporter,
) (mcp.ListResourcesResult, error) {
	s.log(mcp.LogLevelDebug, "ListResources", nil)

	return mcp.ListResourcesResult{
		Resources: resourceList,
	}, nil
}

// ReadResource implements mcp.ResourceServer interface.
func (s *Server) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.ProgressReporter,
) (mcp.ReadResourceResult, error) {
	s.log(mcp.LogLevelDebug, "ReadResource", map[string]string{"uri": params.URI})

	var text string
	switch {
	case params.URI == continentsURI:
		text = s.catalog.AvailableContinents()
	case strings.HasPrefix(params.URI, continentURIPrefix):
		continent, err := continentFromURI(params.URI)
		if err != nil {
			return mcp.ReadResourceResult{}, err
		}
		text = s.catalog.ContinentTimezones(continent)
	default:
		return mcp.ReadResourceResult{}, fmt.Errorf("%w: %s", errResourceNotFound, params.URI)
	}

	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			{
				URI:      params.URI,
				MimeType: textMimeType,
				Text:     text,
			},
		},
	}, nil
}

// ListResourceTemplates implements mcp.ResourceServer interface.
func (s *Server) ListResourceTemplates(
	context.Context,
	mcp.ListResourceTemplatesParams,
	mcp.ProgressReporter,
) (mcp.ListResourceTemplatesResult, error) {
	s.log(mcp.LogLevelDebug, "ListResourceTemplates", nil)

	return mcp.ListResourceTemplatesResult{
		Templates: templateList,
	}, nil
}

// CompletesResourceTemplate implements mcp.ResourceServer interface. It suggests the
// lower-cased continent names matching the typed value. A plain value matches as a
// prefix, a value with glob metacharacters as a pattern.
func (s *Server) CompletesResourceTemplate(
	_ context.Context,
	params mcp.CompletesCompletionParams,
) (mcp.CompletionResult, error) {
	s.log(mcp.LogLevelDebug, "CompletesResourceTemplate", map[string]string{
		"uri":      params.Ref.URI,
		"argument": params.Argument.Name,
	})

	if params.Ref.URI != continentsURITemplate {
		return mcp.CompletionResult{}, fmt.Errorf("%w: %s", errResourceNotFound, params.Ref.URI)
	}
	if params.Argument.Name != continentArgument {
		return mcp.CompletionResult{}, fmt.Errorf("unknown argument: %s", params.Argument.Name)
	}

	pattern := strings.ToLower(params.Argument.Value)
	if !strings.ContainsAny(pattern, "*?[{") {
		pattern += "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return mcp.CompletionResult{}, fmt.Errorf("invalid pattern %q: %w", params.Argument.Value, err)
	}

	continents, err := s.catalog.continents()
	if err != nil {
		return mcp.CompletionResult{}, err
	}

	values := []string{}
	for _, continent := range continents {
		if name := strings.ToLower(continent); g.Match(name) {
			values = append(values, name)
		}
	}

	total := len(values)
	hasMore := false
	if total > maxCompletionValues {
		values = values[:maxCompletionValues]
		hasMore = true
	}

	return mcp.CompletionResult{
		Completion: mcp.CompletionValues{
			Values:  values,
			HasMore: hasMore,
			Total:   total,
		},
	}, nil
}

// continentFromURI extracts the {continent} segment of a template URI. The segment must
// be a single non-empty path element.
func continentFromURI(uri string) (string, error) {
	segment := strings.TrimPrefix(uri, continentURIPrefix)
	if segment == "" || strings.Contains(segment, "/") {
		return "", fmt.Errorf("%w: %s", errResourceNotFound, uri)
	}

	continent, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("invalid continent %q: %w", segment, err)
	}
	return continent, nil
}
