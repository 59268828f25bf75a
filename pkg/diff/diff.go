package diff

import (
	"sort"

	"github.com/gohugoio/hashstructure"
)

// Record is the contract reconciled entities satisfy: a stable key and
// a precise field-level comparison against an older revision of the
// same record.
type Record[T any] interface {
	Key() string
	Diff(old T) []string
}

type Update[T any] struct {
	Record  T
	Changed []string
}

// Result classifies one remote fetch against one local snapshot.
// Inserts and updates keep first-seen remote order; deletes are sorted
// by key so repeated runs produce identical output.
type Result[T any] struct {
	Insert    []T
	Update    []Update[T]
	Delete    []T
	Unchanged int
}

func (r *Result[T]) HasChanges() bool {
	return len(r.Insert) > 0 || len(r.Update) > 0 || len(r.Delete) > 0
}

func (r *Result[T]) Counts() (inserts, updates, deletes int) {
	return len(r.Insert), len(r.Update), len(r.Delete)
}

// Compute diffs the authoritative remote set against the local
// snapshot. Remote duplicates collapse to the last occurrence at the
// first occurrence's position. A record present on both sides is
// unchanged unless Diff names at least one field.
func Compute[T Record[T]](remote []T, local map[string]T) *Result[T] {
	res := &Result[T]{}

	seen := make(map[string]int, len(remote))
	ordered := make([]T, 0, len(remote))
	for _, rec := range remote {
		key := rec.Key()
		if idx, dup := seen[key]; dup {
			ordered[idx] = rec
			continue
		}
		seen[key] = len(ordered)
		ordered = append(ordered, rec)
	}

	for _, rec := range ordered {
		old, exists := local[rec.Key()]
		if !exists {
			res.Insert = append(res.Insert, rec)
			continue
		}

		changed := changedFields(rec, old)
		if len(changed) == 0 {
			res.Unchanged++
			continue
		}
		res.Update = append(res.Update, Update[T]{Record: rec, Changed: changed})
	}

	for key, old := range local {
		if _, exists := seen[key]; !exists {
			res.Delete = append(res.Delete, old)
		}
	}
	sort.Slice(res.Delete, func(i, j int) bool {
		return res.Delete[i].Key() < res.Delete[j].Key()
	})

	return res
}

// changedFields runs a struct-hash precheck before the field-by-field
// comparison. Fields tagged hash:"ignore" stay out of both paths, so
// directory metadata can never flip a record to changed.
func changedFields[T Record[T]](cur, old T) []string {
	curHash, errCur := hashstructure.Hash(cur, nil)
	oldHash, errOld := hashstructure.Hash(old, nil)
	if errCur == nil && errOld == nil && curHash == oldHash {
		return nil
	}
	return cur.Diff(old)
}
