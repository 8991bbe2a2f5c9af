package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage identifies one step of the support chain. Stages are 1-based.
type Stage int

const (
	StageIntentSummary Stage = iota + 1
	StageCategoryMapping
	StageCategorySelection
	StageMissingInformation
	StageResponseDraft
)

// StageCount is the fixed length of the chain.
const StageCount = 5

// NoneNeeded is the sentinel the missing-information stage returns when the
// query can be handled as is.
const NoneNeeded = "None needed"

var stageNames = map[Stage]string{
	StageIntentSummary:      "Intent Summary",
	StageCategoryMapping:    "Category Mapping",
	StageCategorySelection:  "Category Selection",
	StageMissingInformation: "Missing Information",
	StageResponseDraft:      "Response Draft",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown Stage"
}

// Stages returns the chain stages in execution order.
func Stages() []Stage {
	return []Stage{
		StageIntentSummary,
		StageCategoryMapping,
		StageCategorySelection,
		StageMissingInformation,
		StageResponseDraft,
	}
}

// Categories is the closed set of labels the categorization stages choose from.
var Categories = []string{
	"Account Opening",
	"Billing Issue",
	"Account Access",
	"Transaction Inquiry",
	"Card Services",
	"Account Statement",
	"Loan Inquiry",
	"General Information",
}

// CanonicalCategory returns the canonical spelling of label if it belongs to
// Categories, ignoring case and surrounding whitespace.
func CanonicalCategory(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, c := range Categories {
		if strings.EqualFold(c, label) {
			return c, true
		}
	}
	return "", false
}

// ChainResult holds the five stage outputs of a successful run, in stage order.
type ChainResult struct {
	RunID   string
	Model   string
	Outputs []string
}

func (r ChainResult) Output(s Stage) string {
	i := int(s) - 1
	if i < 0 || i >= len(r.Outputs) {
		return ""
	}
	return r.Outputs[i]
}

func (r ChainResult) Summary() string     { return r.Output(StageIntentSummary) }
func (r ChainResult) Categories() string  { return r.Output(StageCategoryMapping) }
func (r ChainResult) Category() string    { return r.Output(StageCategorySelection) }
func (r ChainResult) MissingInfo() string { return r.Output(StageMissingInformation) }
func (r ChainResult) Response() string    { return r.Output(StageResponseDraft) }

// ReadyToProceed reports whether the missing-information stage signalled that
// nothing further is required from the customer.
func (r ChainResult) ReadyToProceed() bool {
	missing := strings.Trim(strings.TrimSpace(r.MissingInfo()), ".'\"")
	return strings.EqualFold(missing, NoneNeeded)
}

// Run is the persisted record of a completed chain run.
type Run struct {
	PK          string
	SK          string
	RunID       string
	Query       string
	Model       string
	Outputs     []string
	CompletedAt string
	TTL         int64
}

// NewRun builds the persisted form of a result for the given query.
func NewRun(query string, res ChainResult, now time.Time) Run {
	outputs := make([]string, len(res.Outputs))
	copy(outputs, res.Outputs)
	return Run{
		RunID:       res.RunID,
		Query:       query,
		Model:       res.Model,
		Outputs:     outputs,
		CompletedAt: now.UTC().Format(time.RFC3339),
	}
}

var (
	ErrCredentialMissing = errors.New("no API credential configured")
	ErrMalformedResponse = errors.New("malformed completion response")
	ErrTransport         = errors.New("completion transport failure")
	ErrRunNotFound       = errors.New("run not found")
)
