//go:build ignore

// Package main generates a synthetic JSONL corpus of code sections for
// benchmarking sync and search.
// Usage: go run scripts/generate-test-corpus.go -sections 50000 -output testdata/bench/sections.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numSections = flag.Int("sections", 10000, "Number of sections to generate")
	outputPath  = flag.String("output", "testdata/bench/sections.jsonl", "Output file")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var codes = []struct{ abbrev, name string }{
	{"FAM", "Family Code"},
	{"PEN", "Penal Code"},
	{"CIV", "Civil Code"},
	{"CCP", "Code of Civil Procedure"},
	{"EVID", "Evidence Code"},
	{"VEH", "Vehicle Code"},
	{"WIC", "Welfare and Institutions Code"},
	{"HSC", "Health and Safety Code"},
}

var subjects = []string{
	"custody", "visitation", "support", "property", "contract", "negligence",
	"evidence", "hearsay", "arrest", "sentencing", "probation", "vehicle",
	"registration", "license", "guardian", "minor", "lease", "tenant",
}

var phrases = []string{
	"the court shall consider",
	"unless otherwise provided by law",
	"a person who violates this section",
	"upon a finding by the court",
	"for purposes of this chapter",
	"notwithstanding any other provision of law",
	"is punishable by imprisonment",
	"the burden of proof shall be",
}

type section struct {
	DocumentID string `json:"document_id"`
	Code       string `json:"code"`
	CodeName   string `json:"code_name"`
	Section    string `json:"section"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Division   string `json:"division"`
	Chapter    string `json:"chapter"`
	UpdatedAt  string `json:"updated_at"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < *numSections; i++ {
		code := codes[i%len(codes)]
		number := fmt.Sprintf("%d", 100+i/len(codes))
		if rng.Intn(10) == 0 {
			number += "." + fmt.Sprint(rng.Intn(9)+1)
		}
		subject := subjects[rng.Intn(len(subjects))]

		s := section{
			DocumentID: strings.ToLower(code.abbrev) + "-" + number,
			Code:       code.abbrev,
			CodeName:   code.name,
			Section:    number,
			Title:      strings.ToUpper(subject[:1]) + subject[1:] + " " + phrases[rng.Intn(len(phrases))],
			Content:    paragraph(rng, subject),
			Division:   fmt.Sprintf("Division %d", rng.Intn(12)+1),
			Chapter:    fmt.Sprintf("Chapter %d", rng.Intn(20)+1),
			// Clustered timestamps exercise equal-updated_at paging.
			UpdatedAt: base.Add(time.Duration(i/25) * time.Minute).Format(time.RFC3339),
		}
		if err := enc.Encode(s); err != nil {
			fmt.Fprintf(os.Stderr, "write section: %v\n", err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d sections in %s\n", *numSections, *outputPath)
}

func paragraph(rng *rand.Rand, subject string) string {
	n := rng.Intn(5) + 2
	sentences := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := phrases[rng.Intn(len(phrases))]
		sentences = append(sentences, fmt.Sprintf("In matters of %s, %s.", subject, p))
	}
	return strings.Join(sentences, " ")
}
