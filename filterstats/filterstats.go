// Package filterstats exposes the statistics of a filter engine as Prometheus
// metrics.
package filterstats

import (
	"cmp"
	"slices"

	"github.com/abpkit/abpfilter"
	"github.com/abpkit/abpfilter/rules"
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the namespace of all metrics.
const namespace = "abpfilter"

// DefaultMaxRuleLabels is the default number of rules with their own hit
// counter.
const DefaultMaxRuleLabels = 100

// Source is the source of statistics.  *abpfilter.Engine implements it.
type Source interface {
	Stats() (st abpfilter.Stats)
	RangeStates(f func(text string, st rules.State) (cont bool))
}

// type check
var _ Source = (*abpfilter.Engine)(nil)

// Config is the configuration structure for a *Collector.
type Config struct {
	// Source is the source of statistics.  It must not be nil.
	Source Source

	// MaxRuleLabels is the maximum number of rules, by hit count, exported
	// with a rule label.  If not positive, [DefaultMaxRuleLabels] is used.
	MaxRuleLabels int
}

// Collector is a [prometheus.Collector] reading the statistics from a Source on
// every scrape.
type Collector struct {
	source        Source
	rules         *prometheus.Desc
	lists         *prometheus.Desc
	cachedResults *prometheus.Desc
	disabled      *prometheus.Desc
	hits          *prometheus.Desc
	ruleHits      *prometheus.Desc
	maxRuleLabels int
}

// type check
var _ prometheus.Collector = (*Collector)(nil)

// New returns a new *Collector.  c must not be nil.
func New(c *Config) (col *Collector) {
	maxLabels := c.MaxRuleLabels
	if maxLabels <= 0 {
		maxLabels = DefaultMaxRuleLabels
	}

	return &Collector{
		source: c.Source,
		rules: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rules"),
			"Number of indexed rules by kind.",
			[]string{"kind"},
			nil,
		),
		lists: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "lists"),
			"Number of loaded filter lists.",
			nil,
			nil,
		),
		cachedResults: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cached_results"),
			"Number of cached match results.",
			nil,
			nil,
		),
		disabled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "disabled_rules"),
			"Number of disabled rules.",
			nil,
			nil,
		),
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "hits_total"),
			"Total number of rule hits.",
			nil,
			nil,
		),
		ruleHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rule_hits_total"),
			"Number of hits of the most used rules.",
			[]string{"rule"},
			nil,
		),
		maxRuleLabels: maxLabels,
	}
}

// Describe implements the [prometheus.Collector] interface for *Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rules
	ch <- c.lists
	ch <- c.cachedResults
	ch <- c.disabled
	ch <- c.hits
	ch <- c.ruleHits
}

// ruleHit is the hit count of a rule.
type ruleHit struct {
	text  string
	count uint64
}

// Collect implements the [prometheus.Collector] interface for *Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()

	for kind, n := range map[string]int{
		rules.KindBlocking.String():          st.Blocking,
		rules.KindAllowing.String():          st.Allowing,
		rules.KindElemHide.String():          st.Cosmetic.ElemHide,
		rules.KindElemHideException.String(): st.Cosmetic.Exceptions,
		rules.KindElemHideEmulation.String(): st.Cosmetic.Emulation,
		rules.KindSnippet.String():           st.Cosmetic.Snippets,
	} {
		ch <- prometheus.MustNewConstMetric(c.rules, prometheus.GaugeValue, float64(n), kind)
	}

	ch <- prometheus.MustNewConstMetric(c.lists, prometheus.GaugeValue, float64(st.Lists))
	ch <- prometheus.MustNewConstMetric(
		c.cachedResults,
		prometheus.GaugeValue,
		float64(st.CachedResults),
	)

	var disabled int
	var total uint64
	var hits []ruleHit
	c.source.RangeStates(func(text string, s rules.State) (cont bool) {
		if s.Disabled {
			disabled++
		}

		if s.HitCount > 0 {
			total += s.HitCount
			hits = append(hits, ruleHit{text: text, count: s.HitCount})
		}

		return true
	})

	ch <- prometheus.MustNewConstMetric(c.disabled, prometheus.GaugeValue, float64(disabled))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(total))

	slices.SortFunc(hits, func(a, b ruleHit) (res int) {
		return cmp.Or(cmp.Compare(b.count, a.count), cmp.Compare(a.text, b.text))
	})

	for _, h := range hits[:min(len(hits), c.maxRuleLabels)] {
		ch <- prometheus.MustNewConstMetric(
			c.ruleHits,
			prometheus.CounterValue,
			float64(h.count),
			h.text,
		)
	}
}
