package callout

// The time wheel is a 128-slot cyclic buffer of intrusive FIFO lists,
// indexed by deadline & cycbufMask. Only whole-second deadlines with
// timestamp < deadline < timestamp+128 live here; everything else goes
// to the priority queue. The immediate and running FIFOs reuse the same
// list layout with a conceptual deadline of 0.

// rmshort removes the unique entry matching (oindex, handle) from the
// list headed at *cyc, if present. t is the deadline the entry was filed
// under (0 for immediate/running lists).
func (s *Scheduler[O]) rmshort(cyc *int, oindex, handle uint16, t uint32) bool {
	k := *cyc
	if k == 0 {
		return false
	}

	l := s.tab
	if l[k].oindex == oindex && l[k].handle == handle {
		// first element in list
		s.freeShort(cyc, k, k, t)
		return true
	}
	if l[*cyc].count() != 1 {
		// walk the siblings
		j := k
		for k = int(l[j].next()); k != 0; k = int(l[j].next()) {
			if l[k].oindex == oindex && l[k].handle == handle {
				s.freeShort(cyc, j, k, t)
				return true
			}
			j = k
		}
	}
	return false
}

// spliceImmediate moves the whole list headed at index i onto the tail
// of the immediate FIFO in one step, preserving insertion order. The
// spliced entries count as zero-deadline from here on.
func (s *Scheduler[O]) spliceImmediate(i int) {
	if s.immediate == 0 {
		s.immediate = i
	} else {
		first := &s.tab[s.immediate]
		last := first
		if first.count() != 1 {
			last = &s.tab[first.last()]
		}
		last.setNext(uint16(i))
		if s.tab[i].count() == 1 {
			first.setLast(uint16(i))
		} else {
			first.setLast(s.tab[i].last())
		}
		first.setCount(first.count() + s.tab[i].count())
	}
	s.nzero += int(s.tab[i].count())
}

// nextTimeout returns the deadline of the first occupied wheel slot at
// or after from. At least one non-zero-deadline entry must be present.
func (s *Scheduler[O]) nextTimeout(from uint32) uint32 {
	t := from
	for s.cycbuf[t&cycbufMask] == 0 {
		t++
	}
	return t
}
