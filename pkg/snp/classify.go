package snp

// classRow is one row of the descending-threshold relationship table.
// A sample is classified by the first row whose MinIBSScore and
// MinIBS2Pct it meets or exceeds.
type classRow struct {
	Relationship string
	MinIBSScore  float64
	MinIBS2Pct   float64
	Confidence   float64
}

// classificationTable is ordered most-related to least-related; the
// first matching row wins. Thresholds and confidence values follow
// spec.md §4.2's table verbatim.
var classificationTable = []classRow{
	{Relationship: "identical/twin", MinIBSScore: 0.99, MinIBS2Pct: 99, Confidence: 0.99},
	{Relationship: "parent-child", MinIBSScore: 0.85, MinIBS2Pct: 85, Confidence: 0.95},
	{Relationship: "full siblings", MinIBSScore: 0.85, MinIBS2Pct: 75, Confidence: 0.90},
	{Relationship: "grandparent/aunt/uncle", MinIBSScore: 0.70, MinIBS2Pct: 65, Confidence: 0.85},
	{Relationship: "first cousins", MinIBSScore: 0.65, MinIBS2Pct: 60, Confidence: 0.80},
	{Relationship: "second cousins", MinIBSScore: 0.60, MinIBS2Pct: 55, Confidence: 0.70},
	{Relationship: "third cousins", MinIBSScore: 0.55, MinIBS2Pct: 50, Confidence: 0.60},
	{Relationship: "unrelated", MinIBSScore: 0, MinIBS2Pct: 0, Confidence: 0.50},
}

// Classify maps an IBS score and IBS2 percentage to a relationship
// label and a calibrated confidence, by descending the threshold
// table and returning the first row both thresholds clear.
func Classify(ibsScore, ibs2Pct float64) (relationship string, confidence float64) {
	for _, row := range classificationTable {
		if ibsScore >= row.MinIBSScore && ibs2Pct >= row.MinIBS2Pct {
			return row.Relationship, row.Confidence
		}
	}
	last := classificationTable[len(classificationTable)-1]
	return last.Relationship, last.Confidence
}
