package tracker

import (
	"strings"
)

// QueryScope parameterizes the WIQL text for an audit
type QueryScope struct {
	Project       string
	WorkItemType  string
	AreaPath      string   // empty = whole project
	ExcludeStates []string // e.g. Removed
}

// BuildQuery returns the WIQL selecting every work item of the scope's type,
// ordered by id so repeated runs see a stable order.
func BuildQuery(scope QueryScope) string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id], [System.Title], [System.State] FROM WorkItems WHERE ")
	b.WriteString("[System.TeamProject] = ")
	b.WriteString(quote(scope.Project))
	b.WriteString(" AND [System.WorkItemType] = ")
	b.WriteString(quote(scope.WorkItemType))

	if scope.AreaPath != "" {
		b.WriteString(" AND [System.AreaPath] UNDER ")
		b.WriteString(quote(scope.AreaPath))
	}

	if len(scope.ExcludeStates) > 0 {
		quoted := make([]string, len(scope.ExcludeStates))
		for i, s := range scope.ExcludeStates {
			quoted[i] = quote(s)
		}
		b.WriteString(" AND [System.State] NOT IN (")
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")")
	}

	b.WriteString(" ORDER BY [System.Id] ASC")
	return b.String()
}

// quote renders a WIQL string literal
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
