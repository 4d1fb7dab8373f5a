// Package pattern implements the closed, ordered pattern table of spec
// §4.8: a sequence of named regexes, each carrying a severity and an
// optional autoAction factory, matched against a single log line.
// Grounded on the teacher's internal/ai/retry.go classifyError (ordered
// regex-to-classification dispatch over vendor output) generalized from
// error classification into the broader line-severity table §4.8 names,
// and on internal/ai/recovery.go's typed-action-from-AI-analysis shape
// for the Action type.
package pattern

import "regexp"

// Severity is the pattern's log-level classification (§4.8).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ActionKind names the corrective action an autoAction produces. The
// healer (§4.9) interprets these; the pattern engine itself never
// executes one.
type ActionKind string

const (
	ActionLogOnly        ActionKind = "log-only"
	ActionWaitAndRetry    ActionKind = "wait-and-retry"
	ActionSetEnvHint      ActionKind = "set-env-hint"
	ActionEnhanceTask     ActionKind = "enhance-task"
	ActionEscalate        ActionKind = "escalate"
	ActionResetBreaker    ActionKind = "reset-breaker"
)

// Action is what an autoAction factory produces from a Match: a kind
// plus free-form detail the healer uses to carry it out.
type Action struct {
	Kind   ActionKind
	Detail string
}

// Match is what matchPattern returns on a hit.
type Match struct {
	PatternName string
	Severity    Severity
	Groups      []string
	Line        string
	Action      *Action // nil if the pattern has no autoAction
}

// Pattern is one entry in the closed, ordered table.
type Pattern struct {
	Name     string
	Severity Severity
	Regex    *regexp.Regexp

	// AutoAction builds an Action from a successful match's groups; nil
	// means "no automatic action, observation only".
	AutoAction func(groups []string) *Action
}

// Engine holds the ordered pattern list. Ordering is semantically
// load-bearing (§4.8: "more specific before more general") so Engine
// exposes no sort, re-order, or insert operation: New builds the table
// and Append only adds to its end.
type Engine struct {
	patterns []*Pattern
}

// New builds the engine with the well-known §4.8 inventory, in the
// order listed there.
func New() *Engine {
	return &Engine{patterns: defaultPatterns()}
}

// Append adds p to the end of the table (still consulted after every
// existing entry).
func (e *Engine) Append(p *Pattern) {
	e.patterns = append(e.patterns, p)
}

// Patterns returns the ordered table, for callers (e.g. the healer's
// recovery path) that need to enumerate known patterns.
func (e *Engine) Patterns() []*Pattern {
	return e.patterns
}

// Match returns the first pattern matching line, or (Match{}, false).
func (e *Engine) Match(line string) (Match, bool) {
	for _, p := range e.patterns {
		loc := p.Regex.FindStringSubmatch(line)
		if loc == nil {
			continue
		}
		m := Match{
			PatternName: p.Name,
			Severity:    p.Severity,
			Groups:      loc,
			Line:        line,
		}
		if p.AutoAction != nil {
			m.Action = p.AutoAction(loc)
		}
		return m, true
	}
	return Match{}, false
}

// LooksLikeError is the §4.9 fallback test applied when no named
// pattern matches: "error|failed|exception|critical", case-insensitive.
var LooksLikeError = regexp.MustCompile(`(?i)error|failed|exception|critical`)

// defaultPatterns is the §4.8 normative inventory. More specific
// patterns precede more general ones, per the ordering invariant.
func defaultPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:     "missing-spec-file",
			Severity: SeverityHigh,
			Regex:    regexp.MustCompile(`(?i)(?:spec|specification) file (?:not found|missing|does not exist)[:\s]*(\S+)?`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEnhanceTask, Detail: "missing spec file referenced by task"}
			},
		},
		{
			Name:     "rate-limit",
			Severity: SeverityWarn,
			Regex:    regexp.MustCompile(`(?i)rate.?limit|too many requests|\b429\b|RESOURCE_EXHAUSTED`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionWaitAndRetry, Detail: "rate-limit observed in log stream"}
			},
		},
		{
			Name:     "required-env-var",
			Severity: SeverityError,
			Regex:    regexp.MustCompile(`(?i)(?:missing|required) environment variable[:\s]+(\S+)`),
			AutoAction: func(groups []string) *Action {
				detail := "missing required environment variable"
				if len(groups) > 1 {
					detail = "missing required environment variable " + groups[1]
				}
				return &Action{Kind: ActionSetEnvHint, Detail: detail}
			},
		},
		{
			Name:     "repeated-task-failure",
			Severity: SeverityHigh,
			Regex:    regexp.MustCompile(`(?i)task .* failed (\d+) times? in a row`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEnhanceTask, Detail: "task repeatedly failing"}
			},
		},
		{
			Name:     "execution-timeout",
			Severity: SeverityWarn,
			Regex:    regexp.MustCompile(`(?i)(?:execution|invocation) timed? ?out after`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionWaitAndRetry, Detail: "execution timeout observed"}
			},
		},
		{
			Name:     "early-exit-clarification-request",
			Severity: SeverityWarn,
			Regex:    regexp.MustCompile(`(?i)(?:need|needs|requesting) clarification (?:before|to) (?:proceed|continue)`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEnhanceTask, Detail: "task exited early requesting clarification"}
			},
		},
		{
			Name:     "permission-denied",
			Severity: SeverityError,
			Regex:    regexp.MustCompile(`(?i)permission denied|EACCES`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEscalate, Detail: "permission denied"}
			},
		},
		{
			Name:     "missing-dependency",
			Severity: SeverityError,
			Regex:    regexp.MustCompile(`(?i)(?:command not found|no such file or directory|cannot find module|module not found)[:\s]*(\S+)?`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEscalate, Detail: "missing dependency"}
			},
		},
		{
			Name:     "network-error",
			Severity: SeverityWarn,
			Regex:    regexp.MustCompile(`(?i)connection refused|connection reset|network (?:is )?unreachable|ETIMEDOUT|EHOSTUNREACH`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionWaitAndRetry, Detail: "network error observed"}
			},
		},
		{
			Name:     "plugin-error",
			Severity: SeverityError,
			Regex:    regexp.MustCompile(`(?i)plugin (?:error|failed|panicked)`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionEscalate, Detail: "plugin error"}
			},
		},
		{
			Name:     "circuit-breaker-tripped",
			Severity: SeverityCritical,
			Regex:    regexp.MustCompile(`(?i)circuit breaker (?:tripped|opened|is open)`),
			AutoAction: func(groups []string) *Action {
				return &Action{Kind: ActionResetBreaker, Detail: "circuit breaker tripped"}
			},
		},
	}
}
