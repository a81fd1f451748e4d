// Package cli provides the client side of the mneme command line: an HTTP client for a running
// server and formatting of its responses.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/mneme/internal/models"
	"github.com/hyperjump/mneme/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	if len(response.Hits) > 0 {
		for i, hit := range response.Hits {
			fmt.Fprintf(w, "%d. [%.1f%%] (id %d, distance %.4f) %s\n",
				i+1, hit.Relevance, hit.ID, hit.Distance, utils.Truncate(hit.Text, 200))
		}
		return nil
	}
	for i, text := range response.Results {
		fmt.Fprintf(w, "%d. %s\n", i+1, utils.Truncate(text, 200))
	}
	return nil
}

// WriteAdded writes the result of an add call.
func WriteAdded(w io.Writer, response *models.AddResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "%s (id %d)\n", response.Message, response.ID)
	return nil
}

// WriteStatus writes the server status. Text output lists top-level keys in sorted order.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := status[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(w, "%s:\n", k)
			sub := make([]string, 0, len(v))
			for sk := range v {
				sub = append(sub, sk)
			}
			sort.Strings(sub)
			for _, sk := range sub {
				fmt.Fprintf(w, "  %s: %v\n", sk, v[sk])
			}
		default:
			fmt.Fprintf(w, "%s: %v\n", k, v)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
