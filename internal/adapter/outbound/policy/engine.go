package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/cel-go/cel"
)

// Rule is one authorization rule as configured by the host application.
// ToolMatch is either an exact tool name or a glob pattern (containing
// any of *, ?, [); Condition is an optional CEL expression, defaulting
// to "true" when empty (match unconditionally once ToolMatch matches).
type Rule struct {
	ID        string `yaml:"id"`
	ToolMatch string `yaml:"tool_match"`
	Priority  int    `yaml:"priority"`
	Condition string `yaml:"condition"`
	Allow     bool   `yaml:"allow"`
}

// CompiledRule is a Rule with its CEL condition compiled to a program.
type CompiledRule struct {
	Rule
	program cel.Program
}

// ruleIndex buckets compiled rules by whether ToolMatch is an exact name
// or a glob pattern, so exact lookups are O(1) and only the (usually
// much smaller) wildcard set needs a pattern match per call.
type ruleIndex struct {
	exact    map[string][]CompiledRule
	wildcard []CompiledRule
}

func buildIndex(rules []CompiledRule) *ruleIndex {
	idx := &ruleIndex{exact: make(map[string][]CompiledRule)}
	for _, r := range rules {
		if strings.ContainsAny(r.ToolMatch, "*?[") {
			idx.wildcard = append(idx.wildcard, r)
		} else {
			idx.exact[r.ToolMatch] = append(idx.exact[r.ToolMatch], r)
		}
	}
	byPriorityDesc := func(s []CompiledRule) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Priority > s[j].Priority }
	}
	sort.Slice(idx.wildcard, byPriorityDesc(idx.wildcard))
	for k := range idx.exact {
		sort.Slice(idx.exact[k], byPriorityDesc(idx.exact[k]))
	}
	return idx
}

func (idx *ruleIndex) candidates(toolName string) []CompiledRule {
	exact := idx.exact[toolName]
	if len(exact) == 0 {
		return idx.wildcard
	}
	if len(idx.wildcard) == 0 {
		return exact
	}
	merged := make([]CompiledRule, 0, len(exact)+len(idx.wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.wildcard) {
		if exact[i].Priority >= idx.wildcard[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, idx.wildcard[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.wildcard[j:]...)
	return merged
}

// Engine evaluates tool calls against a set of rules, highest priority
// first, defaulting to deny when nothing matches. Rule sets can be
// swapped at runtime via Reload without blocking concurrent Evaluate
// calls (the active set is held in an atomic.Value).
type Engine struct {
	eval     *evaluator
	cache    *resultCache
	snapshot atomic.Value // *ruleIndex
}

// NewEngine compiles rules and returns a ready Engine. cacheSize bounds
// the number of distinct (tool, arguments, session) decisions cached;
// pass 0 to disable caching.
func NewEngine(rules []Rule, cacheSize int) (*Engine, error) {
	ev, err := newEvaluator()
	if err != nil {
		return nil, err
	}
	e := &Engine{eval: ev, cache: newResultCache(cacheSize)}
	if err := e.Reload(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload compiles the new rule set and, on success, swaps it in and
// clears the decision cache (stale decisions must not survive a reload).
func (e *Engine) Reload(rules []Rule) error {
	compiled := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		condition := r.Condition
		if condition == "" {
			condition = "true"
		}
		prg, err := e.eval.compile(condition)
		if err != nil {
			return fmt.Errorf("policy: rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, CompiledRule{Rule: r, program: prg})
	}
	e.snapshot.Store(buildIndex(compiled))
	e.cache.clear()
	return nil
}

// Evaluate decides whether evalCtx's tool call is permitted. With no
// matching rule, the decision defaults to deny.
func (e *Engine) Evaluate(evalCtx EvaluationContext) (Decision, error) {
	key := cacheKey(evalCtx)
	if e.cache.maxSize > 0 {
		if d, ok := e.cache.get(key); ok {
			return d, nil
		}
	}

	idx, _ := e.snapshot.Load().(*ruleIndex)
	if idx == nil {
		idx = &ruleIndex{exact: map[string][]CompiledRule{}}
	}

	for _, rule := range idx.candidates(evalCtx.ToolName) {
		if strings.ContainsAny(rule.ToolMatch, "*?[") && rule.ToolMatch != "*" {
			matched, err := filepath.Match(rule.ToolMatch, evalCtx.ToolName)
			if err != nil || !matched {
				continue
			}
		}
		ok, err := e.eval.evaluate(rule.program, evalCtx)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: rule %s: %w", rule.ID, err)
		}
		if !ok {
			continue
		}
		decision := Decision{Allowed: rule.Allow, RuleID: rule.ID, Reason: fmt.Sprintf("matched rule %s", rule.ID)}
		if e.cache.maxSize > 0 {
			e.cache.put(key, decision)
		}
		return decision, nil
	}

	decision := Decision{Allowed: false, Reason: "no matching rule"}
	if e.cache.maxSize > 0 {
		e.cache.put(key, decision)
	}
	return decision, nil
}
