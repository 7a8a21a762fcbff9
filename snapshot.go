package callout

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strconv"

	"github.com/zoobzio/capitan"
)

// Field-layout descriptor strings for the persisted state. Each
// character is one little-endian field: 'u' and 's' are 16 bits, 'i' is
// 32 bits. The stream is the header, then the heap records, then the
// wheel-region records, then the 128 wheel slot heads.
const (
	headerLayout = "uuuuuuussii" // cotabsz queuebrk cycbrk flist nshort running immediate hstamp hdiff timestamp timediff
	recordLayout = "uuiss"       // handle oindex time htime mtime
	wheelLayout  = "u"           // slot head index
)

// layoutSize returns the encoded byte size of one layout.
func layoutSize(layout string) int {
	n := 0
	for _, c := range layout {
		switch c {
		case 'u', 's':
			n += 2
		case 'i':
			n += 4
		default:
			panic("callout: bad layout " + layout)
		}
	}
	return n
}

// packFields appends vals to buf per the layout descriptor.
func packFields(buf []byte, layout string, vals ...uint32) []byte {
	for k, c := range layout {
		switch c {
		case 'u', 's':
			buf = binary.LittleEndian.AppendUint16(buf, uint16(vals[k]))
		case 'i':
			buf = binary.LittleEndian.AppendUint32(buf, vals[k])
		default:
			panic("callout: bad layout " + layout)
		}
	}
	return buf
}

// unpackFields decodes one layout's worth of fields from p, returning
// the values and the remaining bytes.
func unpackFields(p []byte, layout string) ([]uint32, []byte) {
	vals := make([]uint32, 0, len(layout))
	for _, c := range layout {
		switch c {
		case 'u', 's':
			vals = append(vals, uint32(binary.LittleEndian.Uint16(p)))
			p = p[2:]
		case 'i':
			vals = append(vals, binary.LittleEndian.Uint32(p))
			p = p[4:]
		default:
			panic("callout: bad layout " + layout)
		}
	}
	return vals, p
}

func packRecord(buf []byte, co *callout) []byte {
	return packFields(buf, recordLayout,
		uint32(co.handle), uint32(co.oindex), co.time, uint32(co.htime), uint32(co.mtime))
}

func unpackRecord(p []byte, co *callout) []byte {
	vals, rest := unpackFields(p, recordLayout)
	co.handle = uint16(vals[0])
	co.oindex = uint16(vals[1])
	co.time = vals[2]
	co.htime = uint16(vals[3])
	co.mtime = uint16(vals[4])
	return rest
}

// StreamSwapper adapts an io.Writer/io.Reader pair to the Swapper
// interface. Either side may be nil when only saving or only restoring.
type StreamSwapper struct {
	W io.Writer
	R io.Reader
}

// Write implements Swapper.
func (sw *StreamSwapper) Write(p []byte) error {
	if sw.W == nil {
		return errors.New("callout: swapper has no writer")
	}
	_, err := sw.W.Write(p)
	return err
}

// Read implements Swapper. It fills p completely or fails.
func (sw *StreamSwapper) Read(p []byte) error {
	if sw.R == nil {
		return errors.New("callout: swapper has no reader")
	}
	_, err := io.ReadFull(sw.R, p)
	return err
}

// Save writes the whole scheduler state to the swapper: header, heap
// records, wheel-region records, and wheel slot heads. The virtual
// timestamp is brought up to date first so the snapshot is anchored at
// the moment of the save.
func (s *Scheduler[O]) Save(sw Swapper) error {
	_, span := s.tracer.StartSpan(context.Background(), SaveSpan)
	defer span.Finish()

	// update timestamp
	if s.cotabsz != 0 {
		s.cotime()
		s.cached = 0
	}

	hdr := packFields(nil, headerLayout,
		uint32(s.cotabsz), uint32(s.queuebrk), uint32(s.cycbrk), uint32(s.flist),
		uint32(s.nshort), uint32(s.running), uint32(s.immediate),
		0, 0, // reserved high-word extensions
		s.timestamp, s.timediff)
	if err := sw.Write(hdr); err != nil {
		span.SetTag(TagError, err.Error())
		return s.snapErr("save", err)
	}

	if s.queuebrk != 0 {
		buf := make([]byte, 0, s.queuebrk*layoutSize(recordLayout))
		for i := 1; i <= s.queuebrk; i++ {
			buf = packRecord(buf, &s.tab[i])
		}
		if err := sw.Write(buf); err != nil {
			span.SetTag(TagError, err.Error())
			return s.snapErr("save", err)
		}
	}

	if s.cycbrk <= s.cotabsz {
		buf := make([]byte, 0, (s.cotabsz-s.cycbrk+1)*layoutSize(recordLayout))
		for i := s.cycbrk; i <= s.cotabsz; i++ {
			buf = packRecord(buf, &s.tab[i])
		}
		if err := sw.Write(buf); err != nil {
			span.SetTag(TagError, err.Error())
			return s.snapErr("save", err)
		}
	}

	buf := make([]byte, 0, cycbufSize*layoutSize(wheelLayout))
	for _, head := range s.cycbuf {
		buf = packFields(buf, wheelLayout, uint32(head))
	}
	if err := sw.Write(buf); err != nil {
		span.SetTag(TagError, err.Error())
		return s.snapErr("save", err)
	}

	span.SetTag(TagShort, strconv.Itoa(s.nshort))
	span.SetTag(TagQueued, strconv.Itoa(s.queuebrk))
	capitan.Info(context.Background(), SignalSnapshotSaved,
		FieldName.Field(string(s.name)),
		FieldShort.Field(s.nshort),
		FieldQueued.Field(s.queuebrk),
		FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
	)
	return nil
}

// Restore reconstructs the scheduler from a snapshot written by Save.
// It must be called on a freshly constructed scheduler; the arena may
// be larger or smaller than the one saved, and every stored index is
// shifted to the new geometry.
//
// Records are read verbatim: deadlines are not rewritten. Instead the
// virtual clock is re-anchored so that it resumes at the saved
// timestamp minus elapsed, which defers every pending callout by the
// downtime plus elapsed seconds.
//
// Restore fails with ErrTooManyCalloutsRestored when the snapshot holds
// more callouts than the arena has room for.
func (s *Scheduler[O]) Restore(sw Swapper, elapsed uint32) error {
	_, span := s.tracer.StartSpan(context.Background(), RestoreSpan)
	defer span.Finish()

	hdrBuf := make([]byte, layoutSize(headerLayout))
	if err := sw.Read(hdrBuf); err != nil {
		span.SetTag(TagError, err.Error())
		return s.snapErr("restore", err)
	}
	vals, _ := unpackFields(hdrBuf, headerLayout)
	savedCap := int(vals[0])
	queuebrk := int(vals[1])
	offset := s.cotabsz - savedCap
	cycbrk := int(vals[2]) + offset

	if queuebrk >= cycbrk || cycbrk < 1 || cycbrk > s.cotabsz+1 {
		err := s.snapErr("restore", ErrTooManyCalloutsRestored)
		span.SetTag(TagError, err.Error())
		return err
	}

	clear(s.tab)
	s.queuebrk = queuebrk
	s.cycbrk = cycbrk
	s.flist = int(vals[3])
	s.nshort = int(vals[4])
	s.running = int(vals[5])
	s.immediate = int(vals[6])
	// vals[7], vals[8] are the reserved hstamp/hdiff high words
	s.timestamp = vals[9]
	// The saved timediff is superseded: re-anchor the adjusted clock at
	// the saved timestamp, deferred by elapsed.
	raw, _ := s.rawMtime()
	s.timediff = raw + elapsed - s.timestamp
	s.cached = 0

	// read tables
	recSize := layoutSize(recordLayout)
	if s.queuebrk != 0 {
		buf := make([]byte, s.queuebrk*recSize)
		if err := sw.Read(buf); err != nil {
			span.SetTag(TagError, err.Error())
			return s.snapErr("restore", err)
		}
		for i := 1; i <= s.queuebrk; i++ {
			buf = unpackRecord(buf, &s.tab[i])
		}
	}
	if s.cycbrk <= s.cotabsz {
		buf := make([]byte, (s.cotabsz-s.cycbrk+1)*recSize)
		if err := sw.Read(buf); err != nil {
			span.SetTag(TagError, err.Error())
			return s.snapErr("restore", err)
		}
		for i := s.cycbrk; i <= s.cotabsz; i++ {
			buf = unpackRecord(buf, &s.tab[i])
		}
	}
	wbuf := make([]byte, cycbufSize*layoutSize(wheelLayout))
	if err := sw.Read(wbuf); err != nil {
		span.SetTag(TagError, err.Error())
		return s.snapErr("restore", err)
	}
	for k := range s.cycbuf {
		var head []uint32
		head, wbuf = unpackFields(wbuf, wheelLayout)
		s.cycbuf[k] = int(head[0])
	}

	s.nzero = 0
	if s.running != 0 {
		s.running += offset
		s.nzero += int(s.tab[s.running].count())
	}
	if s.immediate != 0 {
		s.immediate += offset
		s.nzero += int(s.tab[s.immediate].count())
	}

	if offset != 0 {
		// patch callout references to the new geometry
		if s.flist != 0 {
			s.flist += offset
		}
		for k := range s.cycbuf {
			if s.cycbuf[k] != 0 {
				s.cycbuf[k] += offset
			}
		}
		for i := s.cycbrk; i <= s.cotabsz; i++ {
			co := &s.tab[i]
			if co.prev() != 0 {
				co.setPrev(uint16(int(co.prev()) + offset))
			}
			if co.next() != 0 {
				co.setNext(uint16(int(co.next()) + offset))
			}
		}
	}

	// restart callouts
	s.timeout = 0
	if s.nshort != s.nzero {
		s.timeout = s.nextTimeout(s.timestamp)
	}

	s.syncGauges()
	span.SetTag(TagShort, strconv.Itoa(s.nshort))
	span.SetTag(TagQueued, strconv.Itoa(s.queuebrk))
	capitan.Info(context.Background(), SignalSnapshotRestored,
		FieldName.Field(string(s.name)),
		FieldShort.Field(s.nshort),
		FieldQueued.Field(s.queuebrk),
		FieldElapsed.Field(int(elapsed)),
		FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
	)
	return nil
}

// snapErr wraps a snapshot failure with scheduler context.
func (s *Scheduler[O]) snapErr(op Name, err error) error {
	return &Error{
		Err:       err,
		Path:      []Name{s.name, op},
		Timestamp: s.getClock().Now(),
	}
}
