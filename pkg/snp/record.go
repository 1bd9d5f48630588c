// Package snp parses whitespace-delimited SNP datasets and computes a
// pairwise Identity-By-State / PCA-surrogate relationship analysis
// between two users' genotype sets.
package snp

import (
	"regexp"
	"strconv"
	"strings"
)

// Record is a single parsed SNP observation. RsID is kept verbatim
// (never reparsed into its numeric suffix); Chromosome MAY be
// canonicalized by the parser.
type Record struct {
	RsID       string
	Position   int64
	Chromosome string
	Genotype   string // canonical form: sorted allele pair, e.g. "AT"
}

var genotypePattern = regexp.MustCompile(`^[ACGTacgt]{2}$`)

// CanonicalGenotype sorts a 2-letter genotype's alleles so that
// "AT" and "TA" compare equal. Input is assumed to already match
// genotypePattern.
func CanonicalGenotype(g string) string {
	g = strings.ToUpper(g)
	if g[0] > g[1] {
		return string([]byte{g[1], g[0]})
	}
	return g
}

// ParseStats reports what happened while parsing one user's dataset,
// for structured logging. It never carries genotype values.
type ParseStats struct {
	RecordsRetained         int
	CommentOrBlankSkipped   int
	MalformedGenotypeSkipped int
	ShortLineSkipped        int
}

// ParseDataset parses a possibly multi-line whitespace-delimited SNP
// dataset. A line is a candidate record when it has at least 4
// whitespace-separated fields and does not start with '#'. Field order
// is sniffed per line: whichever of fields 2/3 is purely numeric is
// the position, the other the chromosome. Lines whose genotype field
// does not match ^[ACGT]{2}$ (case-insensitive) are skipped and
// counted, not treated as an error.
func ParseDataset(input string) ([]Record, ParseStats) {
	var records []Record
	var stats ParseStats

	lines := strings.Split(input, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		// A trailing newline ends the last line; it does not start a
		// further, blank one.
		lines = lines[:n-1]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			stats.CommentOrBlankSkipped++
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) < 4 {
			stats.ShortLineSkipped++
			continue
		}

		rsid := fields[0]
		f2, f3, genotype := fields[1], fields[2], fields[3]

		var position string
		var chromosome string
		if isNumeric(f2) && !isNumeric(f3) {
			position, chromosome = f2, f3
		} else if isNumeric(f3) && !isNumeric(f2) {
			chromosome, position = f2, f3
		} else if isNumeric(f2) && isNumeric(f3) {
			// Both numeric: chromosome tokens are bounded to 1..25
			// (autosomes plus X/Y/MT encoded numerically); whichever
			// field falls in that range is the chromosome, the other
			// the position. If neither or both qualify, fall back to
			// (rsid, chromosome, position, genotype) ordering.
			n2, _ := strconv.ParseInt(f2, 10, 64)
			n3, _ := strconv.ParseInt(f3, 10, 64)
			switch {
			case n2 <= 25 && n3 > 25:
				chromosome, position = f2, f3
			case n3 <= 25 && n2 > 25:
				position, chromosome = f2, f3
			default:
				chromosome, position = f2, f3
			}
		} else {
			stats.MalformedGenotypeSkipped++
			continue
		}

		if !genotypePattern.MatchString(genotype) {
			stats.MalformedGenotypeSkipped++
			continue
		}

		pos, err := strconv.ParseInt(position, 10, 64)
		if err != nil {
			stats.MalformedGenotypeSkipped++
			continue
		}

		records = append(records, Record{
			RsID:       rsid,
			Position:   pos,
			Chromosome: canonicalChromosome(chromosome),
			Genotype:   CanonicalGenotype(genotype),
		})
		stats.RecordsRetained++
	}

	return records, stats
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// canonicalChromosome normalizes common chromosome token variants
// ("chr1" vs "1", "MT" vs "M") without touching the rsID.
func canonicalChromosome(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	c = strings.TrimPrefix(c, "CHR")
	if c == "MT" {
		c = "M"
	}
	return c
}
