package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// FormatBundle renders a context bundle into a plain-text summary.
//
// This is the synthesis fallback: it is deterministic, uses only the
// bundle's own contents, and produces non-empty output even for a bundle
// with no successful sources.
func FormatBundle(bundle *ContextBundle) string {
	var b strings.Builder

	b.WriteString("Ticket context summary (automated, no AI synthesis available)\n")

	if bundle == nil || bundle.TotalCount == 0 {
		b.WriteString("\nNo context sources were queried for this ticket.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nContext sources: %d of %d succeeded.\n",
		bundle.SucceededCount, bundle.TotalCount)

	for _, res := range bundle.Results {
		if !res.Succeeded {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", res.SourceName)
		if len(res.Payload) == 0 {
			b.WriteString("(no data returned)\n")
			continue
		}
		keys := make([]string, 0, len(res.Payload))
		for k := range res.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, formatValue(res.Payload[k]))
		}
	}

	var failed []string
	for _, res := range bundle.Results {
		if !res.Succeeded {
			failed = append(failed, res.SourceName)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nUnavailable sources: %s.\n", strings.Join(failed, ", "))
	}

	return b.String()
}

// formatValue renders one payload value for the plain-text summary.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, "; ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
