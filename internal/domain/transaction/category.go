package transaction

import "strings"

// DefaultCategory labels transactions the provider did not categorize.
const DefaultCategory = "Uncategorized"

// CategoryLabel picks the ledger category from the provider's category
// hierarchy. The most general (first) entry wins.
func CategoryLabel(hierarchy []string) string {
	for _, c := range hierarchy {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return DefaultCategory
}
