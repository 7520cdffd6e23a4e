// Package roles keeps member live roles in line with the live state of their linked streamers.
package roles

import "slices"

// Diff is the set of role mutations that moves a member from current to desired.
type Diff struct {
	Add    []string
	Remove []string
}

func (d Diff) IsEmpty() bool { return len(d.Add) == 0 && len(d.Remove) == 0 }

// ComputeDiff only ever touches managed roles: desired roles missing from current are added, and managed
// roles present in current but not desired are removed. Roles in both sets are left alone.
func ComputeDiff(desired, current, managed []string) Diff {
	isManaged := toSet(managed)
	want := toSet(desired)
	have := toSet(current)

	var d Diff
	for id := range want {
		if isManaged[id] && !have[id] {
			d.Add = append(d.Add, id)
		}
	}
	for id := range have {
		if isManaged[id] && !want[id] {
			d.Remove = append(d.Remove, id)
		}
	}
	slices.Sort(d.Add)
	slices.Sort(d.Remove)
	return d
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
