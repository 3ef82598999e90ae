// Package samplesheet pairs paired-end FASTQ inputs into samples and renders
// the pipeline's sample sheet.
package samplesheet

import (
	"bytes"
	"encoding/csv"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Header is the sample sheet column row.
var Header = []string{"sample", "fastq_1", "fastq_2"}

var (
	forwardRe = regexp.MustCompile(`(_R1|_1)`)
	reverseRe = regexp.MustCompile(`(_R2|_2)`)
)

// Sample is one paired-end sample.
type Sample struct {
	Name  string `json:"sample"`
	Read1 string `json:"fastq_1"`
	Read2 string `json:"fastq_2"`
}

// Result is the outcome of pairing.
type Result struct {
	Samples []Sample `json:"samples"`

	// Unpaired lists forward-read files without a matching reverse read.
	Unpaired []string `json:"unpaired,omitempty"`
}

// Pair groups input locations into samples.
//
// A forward read contains "_R1" or "_1" in its base name; the sample name is
// the base name up to that token. The reverse mate is the first input (in
// sorted order) whose base name starts with the sample name and contains
// "_R2" or "_2". Inputs may be bare file names or URIs; the returned Read1 and
// Read2 are the inputs as given.
func Pair(inputs []string) Result {
	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)

	var res Result
	used := make(map[string]bool, len(sorted))
	for _, in := range sorted {
		base := path.Base(in)
		loc := forwardRe.FindStringIndex(base)
		if loc == nil || used[in] {
			continue
		}
		name := base[:loc[0]]
		if name == "" {
			res.Unpaired = append(res.Unpaired, in)
			continue
		}

		mate := ""
		for _, cand := range sorted {
			if cand == in || used[cand] {
				continue
			}
			cb := path.Base(cand)
			if strings.HasPrefix(cb, name) && reverseRe.MatchString(cb[len(name):]) {
				mate = cand
				break
			}
		}
		if mate == "" {
			res.Unpaired = append(res.Unpaired, in)
			continue
		}
		used[in] = true
		used[mate] = true
		res.Samples = append(res.Samples, Sample{Name: name, Read1: in, Read2: mate})
	}
	return res
}

// Render writes the sample sheet CSV. dir, when non-empty, replaces the
// directory part of each read so the sheet points at the worker's local copies.
func Render(samples []Sample, dir string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, s := range samples {
		r1, r2 := s.Read1, s.Read2
		if dir != "" {
			r1 = path.Join(dir, path.Base(r1))
			r2 = path.Join(dir, path.Base(r2))
		}
		if err := w.Write([]string{s.Name, r1, r2}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
