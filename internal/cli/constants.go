package cli

// Layout of tabular output.
const (
	// TabWidth is the padding between columns in tabwriter output.
	TabWidth = 2
	// ListRuleWidth is the width of the rule under the list header.
	ListRuleWidth = 118
)
