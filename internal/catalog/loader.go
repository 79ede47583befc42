// Package catalog loads charge configurations and reference data from YAML
// files, validates them, and serves them from a registry with atomic snapshot
// swap.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/chargecfg/internal/formula"
	"github.com/pitabwire/chargecfg/model"
)

// File is the content of one catalogue file. A file may carry reference
// data, charges, or both.
type File struct {
	Reference *model.ReferenceData `yaml:"reference"`
	Charges   []model.ChargeConfig `yaml:"charges"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Catalog is the merged content of every loaded file.
type Catalog struct {
	Reference model.ReferenceData
	Charges   []model.ChargeConfig
	Sources   []string
}

// Loader scans directories for catalogue files and parses them.
type Loader struct{}

// NewLoader creates a new catalogue Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files, in
// lexical path order.
func (l *Loader) LoadAll(directories []string) ([]File, error) {
	var files []File

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			f, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return files, nil
}

// LoadFile parses one catalogue file and records its SHA-256 checksum.
func (l *Loader) LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	f.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	f.SourceFile = path
	return f, nil
}

// Merge combines files into one catalogue. Reference lists are concatenated
// in file order and each rule is stamped with its charge code and, when
// missing, its position as creation sequence.
func Merge(files []File) Catalog {
	var c Catalog
	c.Reference.DimensionOptions = make(map[model.Dimension][]string)

	for _, f := range files {
		c.Sources = append(c.Sources, f.SourceFile)
		if ref := f.Reference; ref != nil {
			c.Reference.Branches = append(c.Reference.Branches, ref.Branches...)
			c.Reference.ChargeTypes = append(c.Reference.ChargeTypes, ref.ChargeTypes...)
			c.Reference.Roles = append(c.Reference.Roles, ref.Roles...)
			c.Reference.FormulaVariables = append(c.Reference.FormulaVariables, ref.FormulaVariables...)
			for dim, opts := range ref.DimensionOptions {
				c.Reference.DimensionOptions[dim] = append(c.Reference.DimensionOptions[dim], opts...)
			}
		}
		c.Charges = append(c.Charges, f.Charges...)
	}

	for i, ch := range c.Charges {
		c.Charges[i] = normalizeCharge(ch, c.Reference)
	}

	c.Reference.ComputeOn = slices.Clone(model.ComputeOnOptions)
	if len(c.Reference.FormulaVariables) == 0 {
		for _, name := range formula.DefaultVariables {
			c.Reference.FormulaVariables = append(c.Reference.FormulaVariables, model.FormulaVariable{Name: name, Label: name})
		}
	}
	for dim, opts := range c.Reference.DimensionOptions {
		c.Reference.DimensionOptions[dim] = dedupe(opts)
	}
	return c
}

func normalizeCharge(ch model.ChargeConfig, ref model.ReferenceData) model.ChargeConfig {
	ch.Code = strings.TrimSpace(ch.Code)
	if ch.Status == "" {
		ch.Status = model.ChargeStatusDraft
	}
	if ch.Scope == model.ScopeBranch && ch.BranchName == "" {
		if b, ok := ref.Branch(ch.BranchID); ok {
			ch.BranchName = b.Name
		}
	}
	ch.Rules = slices.Clone(ch.Rules)
	for i := range ch.Rules {
		ch.Rules[i].ChargeCode = ch.Code
		if ch.Rules[i].Sequence == 0 {
			ch.Rules[i].Sequence = i + 1
		}
		if ch.Rules[i].Status == "" {
			ch.Rules[i].Status = model.RuleStatusDraft
		}
	}
	return ch
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
