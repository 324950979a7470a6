package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ggp/checker"
	"ggp/playout"
	"ggp/refine"
	"ggp/rules"

	"github.com/google/uuid"
)

type Status string

const (
	Draft      Status = "draft"
	Consistent Status = "consistent"
	Validated  Status = "validated"
	Rejected   Status = "rejected"
)

var (
	ErrFinalized     = errors.New("artifact is already finalized")
	ErrNotConsistent = errors.New("artifact rule set is not consistent with its traces")
)

// Artifact is the deliverable of a run: a rule set with the evidence that
// supports it. It is immutable once validated or rejected.
type Artifact struct {
	ID            uuid.UUID             `json:"id"`
	RunID         uuid.UUID             `json:"run_id"`
	Parent        string                `json:"parent,omitempty"`
	Status        Status                `json:"status"`
	RuleSet       *rules.RuleSet        `json:"rule_set"`
	Discrepancies []checker.Discrepancy `json:"discrepancies"`
	Validation    *playout.Report       `json:"validation,omitempty"`
	Lineage       []refine.Step         `json:"lineage,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	FinalizedAt   *time.Time            `json:"finalized_at,omitempty"`
}

// New wraps a checked rule set. It is consistent when report is empty and a
// draft otherwise.
func New(runID uuid.UUID, rs *rules.RuleSet, report *checker.Report, lineage []refine.Step) *Artifact {
	a := &Artifact{
		ID:            uuid.New(),
		RunID:         runID,
		Status:        Draft,
		RuleSet:       rs.Clone(),
		Discrepancies: []checker.Discrepancy{},
		Lineage:       append([]refine.Step(nil), lineage...),
		CreatedAt:     time.Now().UTC(),
	}
	if report != nil {
		a.Discrepancies = append(a.Discrepancies, report.All()...)
	}
	if report != nil && report.Empty() {
		a.Status = Consistent
	}
	return a
}

func (a *Artifact) Final() bool {
	return a.Status.Final()
}

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	return s == Validated || s == Rejected
}

// Finalize records the playout report and settles the status.
func (a *Artifact) Finalize(report *playout.Report) error {
	if a.Final() {
		return fmt.Errorf("%w: %s is %s", ErrFinalized, a.ID, a.Status)
	}
	if a.Status != Consistent {
		return fmt.Errorf("%w: %s has %d discrepancies", ErrNotConsistent, a.ID, len(a.Discrepancies))
	}
	if report == nil {
		return errors.New("missing validation report")
	}
	now := time.Now().UTC()
	a.Validation = report
	a.FinalizedAt = &now
	a.Status = Rejected
	if report.Verdict == playout.Validated {
		a.Status = Validated
	}
	return nil
}

// Recheck replaces the discrepancies of an unfinalized artifact with a
// fresh report.
func (a *Artifact) Recheck(report *checker.Report) error {
	if a.Final() {
		return fmt.Errorf("%w: %s is %s", ErrFinalized, a.ID, a.Status)
	}
	a.Discrepancies = append([]checker.Discrepancy{}, report.All()...)
	a.Status = Draft
	if report.Empty() {
		a.Status = Consistent
	}
	return nil
}

// Derive starts a new artifact from a's rule set, keeping its lineage.
func (a *Artifact) Derive(runID uuid.UUID, report *checker.Report) *Artifact {
	d := New(runID, a.RuleSet, report, a.Lineage)
	d.Parent = a.ID.String()
	return d
}

func (s Status) valid() bool {
	switch s {
	case Draft, Consistent, Validated, Rejected:
		return true
	}
	return false
}

func Write(w io.Writer, a *Artifact) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	return nil
}

// Read decodes an artifact and checks that its rule set is well-formed.
func Read(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if !a.Status.valid() {
		return nil, fmt.Errorf("artifact has unknown status %q", a.Status)
	}
	if a.RuleSet == nil {
		return nil, errors.New("artifact has no rule set")
	}
	if err := a.RuleSet.Validate(); err != nil {
		return nil, fmt.Errorf("artifact rule set is invalid: %w", err)
	}
	return &a, nil
}

func WriteFile(path string, a *Artifact) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()
	if err := Write(f, a); err != nil {
		return err
	}
	return f.Close()
}

func ReadFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()
	return Read(f)
}
