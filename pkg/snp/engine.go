package snp

import (
	"math"

	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
)

const (
	minRetainedRecords = 100
	minCommonSNPs      = 50
)

// IBSAnalysis mirrors the ibs_analysis object of the on-chain result
// JSON.
type IBSAnalysis struct {
	IBS0      int     `json:"ibs0"`
	IBS1      int     `json:"ibs1"`
	IBS2      int     `json:"ibs2"`
	TotalSNPs int     `json:"total_snps"`
	IBSScore  float64 `json:"ibs_score"`
}

// Result is the full output of Analyze, matching spec.md §3's
// analysis-result JSON shape (status/n_common_snps/... fields are
// assembled by the caller that serializes it for on-chain submission).
type Result struct {
	NCommonSNPs      int
	IBS              IBSAnalysis
	IBS2Percentage   float64
	Relationship     string
	Confidence       float64
	PCADistance      float64
	Recommendations  []string
}

// Stats summarizes both datasets' parsing and intersection outcome,
// for structured logging. Never carries genotype values.
type Stats struct {
	User1 ParseStats
	User2 ParseStats
	CommonCount int
}

// Analyze computes the pairwise IBS/PCA relationship analysis between
// two raw SNP datasets, per spec.md §4.2.
func Analyze(user1Raw, user2Raw string) (Result, Stats, error) {
	recs1, pstats1 := ParseDataset(user1Raw)
	recs2, pstats2 := ParseDataset(user2Raw)
	stats := Stats{User1: pstats1, User2: pstats2}

	if len(recs1) == 0 && len(recs2) == 0 {
		return Result{}, stats, werrors.Coded(werrors.ErrMalformedInput, werrors.CodeMalformedInput, werrors.CategoryAnalysis, false, "no records parseable from either dataset")
	}

	if len(recs1) < minRetainedRecords {
		return Result{}, stats, insufficientDataErr(len(recs1))
	}
	if len(recs2) < minRetainedRecords {
		return Result{}, stats, insufficientDataErr(len(recs2))
	}

	byRsID1 := indexByRsID(recs1)
	byRsID2 := indexByRsID(recs2)

	common := make([]string, 0)
	for rsid := range byRsID1 {
		if _, ok := byRsID2[rsid]; ok {
			common = append(common, rsid)
		}
	}
	stats.CommonCount = len(common)

	if len(common) < minCommonSNPs {
		return Result{}, stats, insufficientOverlapErr(len(common))
	}

	ibs := computeIBS(common, byRsID1, byRsID2)
	ibsScore := float64(2*ibs.IBS2+ibs.IBS1) / float64(2*ibs.TotalSNPs)
	ibs.IBSScore = ibsScore
	ibs2Pct := 100 * float64(ibs.IBS2) / float64(ibs.TotalSNPs)
	pcaDist := pcaSurrogateDistance(common, byRsID1, byRsID2)

	relationship, confidence := Classify(ibsScore, ibs2Pct)

	result := Result{
		NCommonSNPs:     len(common),
		IBS:             ibs,
		IBS2Percentage:  ibs2Pct,
		Relationship:    relationship,
		Confidence:      confidence,
		PCADistance:     pcaDist,
		Recommendations: Recommendations(relationship),
	}
	return result, stats, nil
}

func indexByRsID(recs []Record) map[string]Record {
	m := make(map[string]Record, len(recs))
	for _, r := range recs {
		m[r.RsID] = r
	}
	return m
}

func computeIBS(common []string, a, b map[string]Record) IBSAnalysis {
	var ibs IBSAnalysis
	for _, rsid := range common {
		ga := a[rsid].Genotype
		gb := b[rsid].Genotype
		switch sharedAlleleCount(ga, gb) {
		case 2:
			ibs.IBS2++
		case 1:
			ibs.IBS1++
		default:
			ibs.IBS0++
		}
	}
	ibs.TotalSNPs = ibs.IBS0 + ibs.IBS1 + ibs.IBS2
	return ibs
}

// sharedAlleleCount returns how many alleles two canonicalized
// genotypes have in common, treating each genotype as a multiset of
// two alleles (so "AA" vs "AT" share exactly one allele, not zero).
func sharedAlleleCount(a, b string) int {
	if a == b {
		return 2
	}
	remaining := []byte{b[0], b[1]}
	shared := 0
	for _, allele := range []byte{a[0], a[1]} {
		for i, r := range remaining {
			if r == allele {
				shared++
				remaining[i] = 0 // consume
				break
			}
		}
	}
	return shared
}

// pcaSurrogateDistance encodes each user's common-set genotypes as
// {0,1,2} (homozygous-ref, heterozygous, homozygous-alt) using a
// per-SNP reference allele chosen as the lexicographically smaller
// allele observed across the two users at that SNP, then returns the
// Euclidean distance between the two column-centered rows of the
// resulting 2xN matrix. This is a lightweight surrogate, not a real
// PCA (spec.md §9).
func pcaSurrogateDistance(common []string, a, b map[string]Record) float64 {
	n := len(common)
	row1 := make([]float64, n)
	row2 := make([]float64, n)

	for i, rsid := range common {
		ga := a[rsid].Genotype
		gb := b[rsid].Genotype
		ref := referenceAllele(ga, gb)
		row1[i] = encodeDosage(ga, ref)
		row2[i] = encodeDosage(gb, ref)
	}

	var sumSq float64
	for i := 0; i < n; i++ {
		colMean := mean([]float64{row1[i], row2[i]})
		d := (row1[i] - colMean) - (row2[i] - colMean)
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}

func referenceAllele(ga, gb string) byte {
	min := ga[0]
	for _, g := range []string{ga, gb} {
		for _, c := range []byte(g) {
			if c < min {
				min = c
			}
		}
	}
	return min
}

func encodeDosage(genotype string, ref byte) float64 {
	count := 0
	for _, c := range []byte(genotype) {
		if c == ref {
			count++
		}
	}
	// count alt alleles: 2 - refCount => 0 homozygous-ref, 1 het, 2 homozygous-alt
	return float64(2 - count)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func insufficientDataErr(n int) error {
	return werrors.Coded(werrors.ErrInsufficientData, werrors.CodeInsufficientData, werrors.CategoryAnalysis, false,
		formatInsufficientData(n))
}

func insufficientOverlapErr(n int) error {
	return werrors.Coded(werrors.ErrInsufficientOverlap, werrors.CodeInsufficientOverlap, werrors.CategoryAnalysis, false,
		formatInsufficientOverlap(n))
}

func formatInsufficientData(n int) string {
	return "insufficient data: " + itoa(n) + " < " + itoa(minRetainedRecords)
}

func formatInsufficientOverlap(n int) string {
	return "insufficient overlap: " + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
