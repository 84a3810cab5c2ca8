// Package ranking classifies measured channels into playlist groups, orders them
// deterministically and renders the result.
package ranking

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/snapetech/iptvscout/internal/channel"
)

// Rule assigns Group to any channel whose name contains one of Keywords.
type Rule struct {
	Group    channel.GroupName
	Keywords []string
}

// DefaultRules is the ordered classification table. First match wins.
func DefaultRules() []Rule {
	return []Rule{
		{channel.CentralChannels, []string{"CCTV"}},
		{channel.SatelliteChannels, []string{"卫视", "凤凰"}},
		{channel.MovieChannels, []string{"CHC", "相声小品", "热播剧场", "经典电影", "谍战剧场", "家庭影院", "动作电影", "亚洲电影"}},
	}
}

// Policy controls classification and ordering.
type Policy struct {
	// SortByResolution adds -resolution area as a tie-break before -speed.
	SortByResolution bool
	// ExtraKeywords are appended to the matching group's keyword list.
	ExtraKeywords map[channel.GroupName][]string
}

// Aggregator groups and sorts channels. The zero value is not usable; call New.
type Aggregator struct {
	rules  []Rule
	policy Policy
}

// New returns an Aggregator using DefaultRules extended by policy.ExtraKeywords.
func New(policy Policy) *Aggregator {
	rules := DefaultRules()
	for i := range rules {
		if extra := policy.ExtraKeywords[rules[i].Group]; len(extra) > 0 {
			rules[i].Keywords = append(rules[i].Keywords, extra...)
		}
	}
	return &Aggregator{rules: rules, policy: policy}
}

// Classify returns the group for name. Every name maps to exactly one group.
func (a *Aggregator) Classify(name string) channel.GroupName {
	for _, r := range a.rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(name, kw) {
				return r.Group
			}
		}
	}
	return channel.Ungrouped
}

// Aggregate classifies, dedups by (name, source) and sorts. Every group in
// channel.GroupOrder is present in the result, possibly empty.
func (a *Aggregator) Aggregate(channels []channel.Channel) channel.PlaylistDocument {
	buckets := make(map[channel.GroupName][]channel.Channel, len(channel.GroupOrder))
	for _, c := range a.dedup(channels) {
		g := a.Classify(c.Name)
		buckets[g] = append(buckets[g], c)
	}
	doc := channel.PlaylistDocument{Groups: make([]channel.Group, 0, len(channel.GroupOrder))}
	for _, g := range channel.GroupOrder {
		list := buckets[g]
		sort.SliceStable(list, func(i, j int) bool { return a.less(list[i], list[j]) })
		doc.Groups = append(doc.Groups, channel.Group{Name: g, Channels: list})
	}
	return doc
}

type dedupKey struct {
	name   string
	source channel.Endpoint
}

func (a *Aggregator) dedup(channels []channel.Channel) []channel.Channel {
	idx := make(map[dedupKey]int, len(channels))
	out := make([]channel.Channel, 0, len(channels))
	for _, c := range channels {
		k := dedupKey{c.Name, c.Source}
		if i, ok := idx[k]; ok {
			if a.less(c, out[i]) {
				out[i] = c
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}

func (a *Aggregator) less(x, y channel.Channel) bool {
	if cx, cy := CCTVIndex(x.Name), CCTVIndex(y.Name); cx != cy {
		return cx < cy
	}
	if x.Name != y.Name {
		return x.Name < y.Name
	}
	if a.policy.SortByResolution {
		if ax, ay := x.Resolution.Area(), y.Resolution.Area(); ax != ay {
			return ax > ay
		}
	}
	if x.SpeedMBps != y.SpeedMBps {
		return x.SpeedMBps > y.SpeedMBps
	}
	return x.URL < y.URL
}

var cctvNumber = regexp.MustCompile(`CCTV(\d+)`)

// CCTVIndex extracts the numeric channel index from names like CCTV13.
// Names without it sort last (+Inf).
func CCTVIndex(name string) float64 {
	m := cctvNumber.FindStringSubmatch(name)
	if m == nil {
		return math.Inf(1)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return math.Inf(1)
	}
	return n
}
