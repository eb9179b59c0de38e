package jobs

import "fmt"

// Section is one independently failable step of a document generation job.
// The list is iterated in declaration order; one section failing never
// aborts the remaining ones.
type Section struct {
	Key   string
	Title string
}

// DocumentSections is the fixed section plan of a full document. Order is
// part of the producer/worker contract.
var DocumentSections = []Section{
	{Key: "executive_summary", Title: "Executive Summary"},
	{Key: "problem_statement", Title: "Problem Statement"},
	{Key: "proposed_solution", Title: "Proposed Solution"},
	{Key: "market_analysis", Title: "Market Analysis"},
	{Key: "implementation_plan", Title: "Implementation Plan"},
	{Key: "risks_and_mitigations", Title: "Risks and Mitigations"},
	{Key: "financial_projections", Title: "Financial Projections"},
	{Key: "conclusion", Title: "Conclusion"},
}

// SectionProgress maps a section index onto the 0-100 progress scale. The
// first 20% is reserved for setup, the last 10% is consumed by the final
// snapshot write when the job completes.
func SectionProgress(index, total int) int {
	if total <= 0 {
		return 20
	}
	return 20 + 70*(index+1)/total
}

// SectionMessage is the human readable status written before each section
// runs. Pollers display it verbatim.
func SectionMessage(s Section, index, total int) string {
	return fmt.Sprintf("Generating %s (%d/%d)", s.Title, index+1, total)
}
