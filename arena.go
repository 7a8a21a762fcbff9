package callout

// Arena geometry.
const (
	cycbufSize = 128            // cyclic buffer size, power of 2
	cycbufMask = cycbufSize - 1 // cyclic buffer mask

	// Arena indices travel as 16-bit fields in snapshots; index 0 is
	// reserved for the sentinel, and cycbrk can sit one past the top.
	maxCapacity = 65534
)

// callout is one arena record. A record is in exactly one role at a
// time, and three of its fields are reused by role:
//
//	heap entry:  time = seconds deadline, mtime = millisecond deadline
//	list head:   time = list length, htime = tail index, mtime = next
//	list member: htime = previous sibling, mtime = next sibling
//
// handle 0 marks a free slot. The role aliases below keep list code
// readable without storing both roles at once.
type callout struct {
	handle uint16
	oindex uint16
	time   uint32
	htime  uint16
	mtime  uint16
}

// List-role aliases over the time fields.

func (co *callout) count() uint32     { return co.time }
func (co *callout) setCount(n uint32) { co.time = n }

func (co *callout) last() uint16     { return co.htime }
func (co *callout) setLast(i uint16) { co.htime = i }

func (co *callout) prev() uint16     { return co.htime }
func (co *callout) setPrev(i uint16) { co.htime = i }

func (co *callout) next() uint16     { return co.mtime }
func (co *callout) setNext(i uint16) { co.mtime = i }

// newShort takes a slot for a wheel, immediate, or running entry and
// appends it to the list headed at *list. Free-listed slots are reused
// before the wheel region grows downward. The deadline t is 0 for
// immediate entries and drives the timeout witness otherwise.
//
// Callers must have reserved space with Check; overflow here is an
// invariant violation.
func (s *Scheduler[O]) newShort(list *int, t uint32) *callout {
	var i int
	if s.flist != 0 {
		// get callout from free list
		i = s.flist
		s.flist = int(s.tab[i].next())
	} else {
		// grow the wheel region downward
		if s.cycbrk == s.queuebrk+1 {
			panic("callout: table overflow")
		}
		s.cycbrk--
		i = s.cycbrk
	}
	s.nshort++
	if t == 0 {
		s.nzero++
	}

	co := &s.tab[i]
	if *list == 0 {
		// first one in list
		*list = i
		co.setCount(1)

		if t != 0 && (s.timeout == 0 || t < s.timeout) {
			s.timeout = t
		}
	} else {
		// add to list
		first := &s.tab[*list]
		last := first
		if first.count() != 1 {
			last = &s.tab[first.last()]
		}
		last.setNext(uint16(i))
		first.setCount(first.count() + 1)
		first.setLast(uint16(i))
	}
	co.setPrev(0)
	co.setNext(0)

	return co
}

// freeShort unlinks entry i from the list headed at *cyc (j is i's
// predecessor, or i itself when i is the head) and reclaims the slot.
// A slot freed at the wheel-region edge extends cycbrk upward across any
// contiguous free slots, unlinking each from the free list as it goes;
// anything else is pushed onto the free list head.
func (s *Scheduler[O]) freeShort(cyc *int, j, i int, t uint32) {
	s.nshort--
	if t == 0 {
		s.nzero--
	}

	first := &s.tab[*cyc]
	if i == j {
		if first.count() == 1 {
			*cyc = 0

			if t != 0 && t == s.timeout {
				if s.nshort != s.nzero {
					for s.cycbuf[t&cycbufMask] == 0 {
						t++
					}
					s.timeout = t
				} else {
					s.timeout = 0
				}
			}
		} else {
			head := int(first.next())
			*cyc = head
			s.tab[head].setCount(first.count() - 1)
			if first.count() != 2 {
				s.tab[head].setLast(first.last())
			}
		}
	} else {
		first.setCount(first.count() - 1)
		if i == int(first.last()) {
			s.tab[j].setPrev(0)
			s.tab[j].setNext(0)
			if first.count() != 1 {
				first.setLast(uint16(j))
			}
		} else {
			s.tab[j].setNext(s.tab[i].next())
		}
	}

	co := &s.tab[i]
	co.handle = 0 // mark as unused
	if i == s.cycbrk {
		// freed at the edge: reclaim it and any free run above it
		for {
			s.cycbrk++
			if s.cycbrk > s.cotabsz {
				break
			}
			co = &s.tab[s.cycbrk]
			if co.handle != 0 {
				break
			}
			if s.cycbrk == s.flist {
				// first in the free list
				s.flist = int(co.next())
			} else {
				// connect previous to next
				s.tab[co.prev()].setNext(co.next())
				if co.next() != 0 {
					s.tab[co.next()].setPrev(co.prev())
				}
			}
		}
	} else {
		// add to free list
		if s.flist != 0 {
			s.tab[s.flist].setPrev(uint16(i))
		}
		co.setNext(uint16(s.flist))
		s.flist = i
	}
}
