package availability

import "sort"

// BusySet is the set of already booked "HH:MM" times for one date.
type BusySet map[string]struct{}

// NewBusySet normalizes raw backend values, dropping any that cannot be read.
func NewBusySet(raw []string) BusySet {
	b := make(BusySet, len(raw))
	for _, r := range raw {
		b.Add(r)
	}
	return b
}

// Add normalizes raw and inserts it. It reports whether the set grew.
func (b BusySet) Add(raw string) bool {
	t, ok := NormalizeTime(raw)
	if !ok {
		return false
	}
	if _, exists := b[t]; exists {
		return false
	}
	b[t] = struct{}{}
	return true
}

func (b BusySet) Has(t string) bool {
	_, ok := b[t]
	return ok
}

func (b BusySet) Len() int { return len(b) }

// Union returns a new set holding the members of b and o.
func (b BusySet) Union(o BusySet) BusySet {
	out := make(BusySet, len(b)+len(o))
	for t := range b {
		out[t] = struct{}{}
	}
	for t := range o {
		out[t] = struct{}{}
	}
	return out
}

func (b BusySet) Sorted() []string {
	out := make([]string, 0, len(b))
	for t := range b {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
