package snp

import (
	"fmt"
	"strings"
	"testing"

	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
)

func TestCanonicalGenotypeSortsAlleles(t *testing.T) {
	cases := map[string]string{
		"AT": "AT",
		"TA": "AT",
		"at": "AT",
		"GG": "GG",
		"cg": "CG",
	}
	for in, want := range cases {
		if got := CanonicalGenotype(in); got != want {
			t.Errorf("CanonicalGenotype(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSharedAlleleCountTotals(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"AA", "AA", 2},
		{"AT", "TA", 2}, // equal once both are canonicalized
		{"AA", "AT", 1},
		{"AA", "TT", 0},
		{"AT", "CG", 0},
		{"AT", "AG", 1},
	}
	for _, c := range cases {
		got := sharedAlleleCount(CanonicalGenotype(c.a), CanonicalGenotype(c.b))
		if got != c.want {
			t.Errorf("sharedAlleleCount(%s,%s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func syntheticDataset(n int, genotype func(i int) string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "rs%d %d 1 %s\n", i, 1000+i, genotype(i))
	}
	return b.String()
}

// S1 — identical datasets.
func TestAnalyzeIdenticalDatasets(t *testing.T) {
	genotype := func(i int) string {
		bases := []string{"AA", "AT", "GG", "CT", "CC"}
		return bases[i%len(bases)]
	}
	raw := syntheticDataset(1000, genotype)

	result, _, err := Analyze(raw, raw)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.IBS.IBS2 != 1000 || result.IBS.IBS1 != 0 || result.IBS.IBS0 != 0 {
		t.Fatalf("ibs counts = %+v, want ibs2=1000", result.IBS)
	}
	if result.IBS.IBSScore != 1.0 {
		t.Errorf("ibs_score = %v, want 1.0", result.IBS.IBSScore)
	}
	if result.Relationship != "identical/twin" {
		t.Errorf("relationship = %q, want identical/twin", result.Relationship)
	}
	if result.Confidence != 0.99 {
		t.Errorf("confidence = %v, want 0.99", result.Confidence)
	}
}

// S2 — disjoint rsIDs.
func TestAnalyzeDisjointRsIDsInsufficientOverlap(t *testing.T) {
	raw1 := syntheticDataset(100, func(i int) string { return "AA" })
	raw2 := strings.ReplaceAll(syntheticDataset(100, func(i int) string { return "AA" }), "rs", "zz")

	_, stats, err := Analyze(raw1, raw2)
	if err == nil {
		t.Fatal("expected InsufficientOverlap error")
	}
	if !werrors.Is(err, werrors.ErrInsufficientOverlap) {
		t.Errorf("expected ErrInsufficientOverlap, got %v", err)
	}
	if stats.CommonCount != 0 {
		t.Errorf("common count = %d, want 0", stats.CommonCount)
	}
	if err.Error() == "" || !strings.Contains(err.Error(), "insufficient overlap: 0") {
		t.Errorf("error message = %q, want to contain %q", err.Error(), "insufficient overlap: 0")
	}
}

// S3 — too few records.
func TestAnalyzeTooFewRecordsInsufficientData(t *testing.T) {
	raw1 := syntheticDataset(40, func(i int) string { return "AT" })
	raw2 := syntheticDataset(200, func(i int) string { return "AT" })

	_, _, err := Analyze(raw1, raw2)
	if err == nil {
		t.Fatal("expected InsufficientData error")
	}
	if !werrors.Is(err, werrors.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient data: 40 < 100") {
		t.Errorf("error message = %q, want to contain %q", err.Error(), "insufficient data: 40 < 100")
	}
}

// S4 — parser tolerance: comment line, blank line, and an NN genotype
// record are all skipped, the last one counted as malformed.
func TestParseDatasetToleratesCommentsBlanksAndMalformedGenotype(t *testing.T) {
	input := "# header comment\n" +
		"\n" +
		"rs1 1000 1 AT\n" +
		"rs2 1001 1 NN\n"

	records, stats := ParseDataset(input)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].RsID != "rs1" {
		t.Errorf("retained record = %+v, want rs1", records[0])
	}
	if stats.CommentOrBlankSkipped != 2 {
		t.Errorf("CommentOrBlankSkipped = %d, want 2", stats.CommentOrBlankSkipped)
	}
	if stats.MalformedGenotypeSkipped != 1 {
		t.Errorf("MalformedGenotypeSkipped = %d, want 1", stats.MalformedGenotypeSkipped)
	}
}

func TestParseDatasetFieldOrderSniffing(t *testing.T) {
	// (rsid, position, chromosome, genotype)
	a, statsA := ParseDataset("rs1 1000 1 AT\n")
	// (rsid, chromosome, position, genotype)
	b, statsB := ParseDataset("rs1 1 1000 AT\n")

	if statsA.RecordsRetained != 1 || statsB.RecordsRetained != 1 {
		t.Fatalf("expected both orderings to retain one record, got %d and %d", statsA.RecordsRetained, statsB.RecordsRetained)
	}
	if a[0].Position != 1000 || b[0].Position != 1000 {
		t.Errorf("position sniffing failed: got %d and %d, want 1000 both", a[0].Position, b[0].Position)
	}
	if a[0].Chromosome != "1" || b[0].Chromosome != "1" {
		t.Errorf("chromosome sniffing failed: got %q and %q, want \"1\" both", a[0].Chromosome, b[0].Chromosome)
	}
}

func TestAnalyzeMalformedInputWhenNothingParses(t *testing.T) {
	_, _, err := Analyze("# only a comment\n", "# only a comment\n")
	if !werrors.Is(err, werrors.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestClassifyDescendingThresholds(t *testing.T) {
	cases := []struct {
		score, pct   float64
		relationship string
		confidence   float64
	}{
		{1.0, 100, "identical/twin", 0.99},
		{0.85, 85, "parent-child", 0.95},
		{0.85, 75, "full siblings", 0.90},
		{0.70, 65, "grandparent/aunt/uncle", 0.85},
		{0.65, 60, "first cousins", 0.80},
		{0.60, 55, "second cousins", 0.70},
		{0.55, 50, "third cousins", 0.60},
		{0.10, 5, "unrelated", 0.50},
	}
	for _, c := range cases {
		rel, conf := Classify(c.score, c.pct)
		if rel != c.relationship || conf != c.confidence {
			t.Errorf("Classify(%v,%v) = (%q,%v), want (%q,%v)", c.score, c.pct, rel, conf, c.relationship, c.confidence)
		}
	}
}

func TestRecommendationsNonEmptyForKnownRelationships(t *testing.T) {
	for _, row := range classificationTable {
		recs := Recommendations(row.Relationship)
		if len(recs) == 0 {
			t.Errorf("Recommendations(%q) is empty", row.Relationship)
		}
	}
}

func TestRecommendationsUnknownRelationshipReturnsEmptyNotNil(t *testing.T) {
	recs := Recommendations("not-a-real-relationship")
	if recs == nil {
		t.Error("Recommendations for unknown relationship should return empty slice, not nil")
	}
	if len(recs) != 0 {
		t.Errorf("Recommendations for unknown relationship = %v, want empty", recs)
	}
}
