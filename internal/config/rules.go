package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/normalize"
)

// RulesFile is the optional YAML overlay for name rules, listing filters and group keywords.
//
//	aliases:
//	  - {from: 星空卫视, to: 星空}
//	filter_keywords: [购物]
//	group_keywords:
//	  卫视频道: [卡酷]
type RulesFile struct {
	Aliases        []normalize.Rule    `yaml:"aliases"`
	FilterKeywords []string            `yaml:"filter_keywords"`
	GroupKeywords  map[string][]string `yaml:"group_keywords"`
}

// LoadRules reads the rules overlay. An empty path yields an empty overlay.
// The aliases are checked against the built-in table so a duplicate key fails here, not mid-run.
func LoadRules(path string) (RulesFile, error) {
	var rf RulesFile
	if path == "" {
		return rf, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return rf, fmt.Errorf("rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("%w: rules file %s: %v", ErrInvalidConfig, path, err)
	}
	if _, err := normalize.New(rf.NormalizeRules()); err != nil {
		return rf, fmt.Errorf("%w: rules file %s: %w", ErrInvalidConfig, path, err)
	}
	for name := range rf.GroupKeywords {
		if !knownGroup(name) {
			return rf, fmt.Errorf("%w: rules file %s: unknown group %q", ErrInvalidConfig, path, name)
		}
	}
	for i, k := range rf.FilterKeywords {
		rf.FilterKeywords[i] = strings.ToUpper(strings.TrimSpace(k))
	}
	return rf, nil
}

// NormalizeRules returns the default tables with the overlay's aliases appended.
func (rf RulesFile) NormalizeRules() normalize.Rules {
	return normalize.DefaultRules().WithAliases(rf.Aliases)
}

func knownGroup(name string) bool {
	for _, g := range channel.GroupOrder {
		if string(g) == name && g != channel.Ungrouped {
			return true
		}
	}
	return false
}

// ExtraGroupKeywords returns the overlay's group keywords keyed by group.
func (rf RulesFile) ExtraGroupKeywords() map[channel.GroupName][]string {
	if len(rf.GroupKeywords) == 0 {
		return nil
	}
	out := make(map[channel.GroupName][]string, len(rf.GroupKeywords))
	for name, kws := range rf.GroupKeywords {
		out[channel.GroupName(name)] = append([]string(nil), kws...)
	}
	return out
}
