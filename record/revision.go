package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Revision is the remote's opaque "N-suffix" version tag for a record.
// The zero value means the record has never been seen by the remote.
type Revision string

// Generation returns N, or 0 when the revision is empty or malformed.
func (r Revision) Generation() int {
	head, _, _ := strings.Cut(string(r), "-")
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (r Revision) suffix() string {
	_, tail, _ := strings.Cut(string(r), "-")
	return tail
}

// IsZero reports whether r is empty.
func (r Revision) IsZero() bool { return r == "" }

func (r Revision) String() string { return string(r) }

// Compare orders revisions by generation, then by suffix.
// It returns -1, 0 or 1.
func (r Revision) Compare(other Revision) int {
	g1, g2 := r.Generation(), other.Generation()
	switch {
	case g1 < g2:
		return -1
	case g1 > g2:
		return 1
	}
	return strings.Compare(r.suffix(), other.suffix())
}

// Next returns the revision following r with the given suffix.
func (r Revision) Next(suffix string) Revision {
	return Revision(fmt.Sprintf("%d-%s", r.Generation()+1, suffix))
}
