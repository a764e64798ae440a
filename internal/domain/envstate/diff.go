package envstate

import (
	"fmt"
	"sort"
)

// ChangeKind classifies a diff entry.
type ChangeKind string

const (
	Added     ChangeKind = "added"
	Removed   ChangeKind = "removed"
	Changed   ChangeKind = "changed"
	Unchanged ChangeKind = "unchanged"
)

// Risk of applying a change.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Change is one diff line. It carries no values, only the kind.
type Change struct {
	Key    string     `json:"key"`
	Kind   ChangeKind `json:"kind"`
	Risk   Risk       `json:"risk"`
	Secret bool       `json:"secret"`
	IAM    bool       `json:"iam"`
}

// Diff is the ordered result of comparing desired and deployed state.
type Diff struct {
	Changes []Change `json:"changes"`
}

// Compute diffs desired against deployed. Desired keys keep their contract
// order; removed keys follow, sorted. isIAM classifies removed keys, which
// have no desired entry to carry the flag.
func Compute(desired *DesiredState, deployed *DeployedState, isIAM IAMPredicate) (Diff, error) {
	var diff Diff
	seen := make(map[string]bool, len(desired.Entries))

	for _, e := range desired.Entries {
		seen[e.Key] = true
		want, err := e.Hash()
		if err != nil {
			return Diff{}, fmt.Errorf("hash %s: %w", e.Key, err)
		}

		c := Change{Key: e.Key, Secret: e.Secret, IAM: e.IAM}
		got, ok := deployed.Hashes[e.Key]
		switch {
		case !ok:
			c.Kind = Added
		case got != want:
			c.Kind = Changed
		default:
			c.Kind = Unchanged
		}
		c.Risk = riskOf(c)
		diff.Changes = append(diff.Changes, c)
	}

	var removed []string
	for k := range deployed.Hashes {
		if !seen[k] {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	for _, k := range removed {
		c := Change{Key: k, Kind: Removed}
		if isIAM != nil {
			c.IAM = isIAM(Variable{Key: k})
		}
		c.Risk = riskOf(c)
		diff.Changes = append(diff.Changes, c)
	}

	return diff, nil
}

func riskOf(c Change) Risk {
	switch {
	case c.Kind == Unchanged:
		return RiskLow
	case c.IAM:
		return RiskHigh
	case c.Kind == Removed:
		return RiskHigh
	case c.Secret && c.Kind == Changed:
		return RiskHigh
	default:
		return RiskLow
	}
}

// Empty reports whether nothing differs.
func (d Diff) Empty() bool {
	for _, c := range d.Changes {
		if c.Kind != Unchanged {
			return false
		}
	}
	return true
}

// Pending returns the changes that are not Unchanged.
func (d Diff) Pending() []Change {
	var out []Change
	for _, c := range d.Changes {
		if c.Kind != Unchanged {
			out = append(out, c)
		}
	}
	return out
}

// Counts tallies changes by kind.
func (d Diff) Counts() map[ChangeKind]int {
	out := map[ChangeKind]int{Added: 0, Removed: 0, Changed: 0, Unchanged: 0}
	for _, c := range d.Changes {
		out[c.Kind]++
	}
	return out
}

// Advisory explains why a key was left out of the applied changeset.
type Advisory struct {
	Key    string     `json:"key"`
	Kind   ChangeKind `json:"kind"`
	Reason string     `json:"reason"`
}

// Changeset is what an adapter is asked to apply.
type Changeset struct {
	Scope   Scope
	Set     []Entry
	Delete  []string
	Changes []Change
}

// Empty reports whether the changeset does nothing.
func (c Changeset) Empty() bool {
	return len(c.Set) == 0 && len(c.Delete) == 0
}

// Keys lists every key the changeset touches.
func (c Changeset) Keys() []string {
	keys := make([]string, 0, len(c.Set)+len(c.Delete))
	for _, e := range c.Set {
		keys = append(keys, e.Key)
	}
	return append(keys, c.Delete...)
}

// BuildChangeset turns a diff into a changeset. IAM keys never enter it;
// each becomes an advisory instead.
func BuildChangeset(desired *DesiredState, diff Diff) (Changeset, []Advisory) {
	cs := Changeset{Scope: desired.Scope}
	var advisories []Advisory

	for _, c := range diff.Pending() {
		if c.IAM {
			advisories = append(advisories, Advisory{
				Key:    c.Key,
				Kind:   c.Kind,
				Reason: "identity/access key excluded from automatic apply; change it through the provider's IAM workflow",
			})
			continue
		}
		switch c.Kind {
		case Added, Changed:
			if e, ok := desired.Lookup(c.Key); ok {
				cs.Set = append(cs.Set, e)
				cs.Changes = append(cs.Changes, c)
			}
		case Removed:
			cs.Delete = append(cs.Delete, c.Key)
			cs.Changes = append(cs.Changes, c)
		}
	}

	return cs, advisories
}

// VerificationStatus is the verdict of Verify.
type VerificationStatus string

const (
	VerifyPass VerificationStatus = "pass"
	VerifyFail VerificationStatus = "fail"
)

// VerificationResult compares desired and deployed state after the fact.
// IAM mismatches are reported as advisories and do not fail verification,
// since apply never touches them.
type VerificationResult struct {
	Status     VerificationStatus `json:"status"`
	Mismatches []Change           `json:"mismatches"`
	Advisories []Advisory         `json:"advisories,omitempty"`
}

// Passed reports whether verification passed.
func (v VerificationResult) Passed() bool {
	return v.Status == VerifyPass
}

// VerifyDiff derives a verification result from a diff.
func VerifyDiff(diff Diff) VerificationResult {
	res := VerificationResult{Status: VerifyPass}
	for _, c := range diff.Pending() {
		if c.IAM {
			res.Advisories = append(res.Advisories, Advisory{
				Key:    c.Key,
				Kind:   c.Kind,
				Reason: "identity/access key differs; not managed by automatic apply",
			})
			continue
		}
		res.Mismatches = append(res.Mismatches, c)
	}
	if len(res.Mismatches) > 0 {
		res.Status = VerifyFail
	}
	return res
}
