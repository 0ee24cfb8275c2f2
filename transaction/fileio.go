package transaction

import (
	"github.com/eclipse-keyple/keyple-card-calypso-go/calypsoerr"
	"github.com/eclipse-keyple/keyple-card-calypso-go/command"
)

func (m *Manager) checkSFI(sfi int) error {
	if sfi < 1 || sfi > 30 {
		return calypsoerr.Newf(calypsoerr.IllegalArgument, "sfi %d out of range [1,30]", sfi)
	}
	return nil
}

func (m *Manager) checkRecordNumber(n int) error {
	if n < 1 || n > 250 {
		return calypsoerr.Newf(calypsoerr.IllegalArgument, "record number %d out of range [1,250]", n)
	}
	return nil
}

// PrepareSelectFile selects by LID (2-byte file identifier).
func (m *Manager) PrepareSelectFile(lid []byte) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefSelectFile, SelectLID: lid, SelectControl: 0x02}}
	return m, m.enqueue(c)
}

// PrepareSelectFileByControl selects by a select-control byte (first,
// next, current) without an explicit LID.
func (m *Manager) PrepareSelectFileByControl(control byte) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefSelectFile, SelectControl: control}}
	return m, m.enqueue(c)
}

// PrepareGetData reads a BER-TLV tagged data object.
func (m *Manager) PrepareGetData(tag uint16) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefGetData, GetDataTag: tag}}
	return m, m.enqueue(c)
}

// PrepareReadRecord reads a single record.
func (m *Manager) PrepareReadRecord(sfi byte, n int) (*Manager, error) {
	if err := m.checkSFI(int(sfi)); err != nil {
		return m, m.failStop(err)
	}
	if err := m.checkRecordNumber(n); err != nil {
		return m, m.failStop(err)
	}
	c := &command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: sfi, FromRecord: n, ToRecord: n}}
	return m, m.enqueue(c)
}

// PrepareReadRecords reads a contiguous range of records, splitting into
// multiple APDUs of ⌊payload/(record_size+2)⌋ records each (at least one)
// when recordSize and the card's PayloadCapacity are both positive, and
// one record per APDU otherwise; a single-record range becomes one
// READ_RECORD.
func (m *Manager) PrepareReadRecords(sfi byte, from, to, recordSize int) (*Manager, error) {
	if err := m.checkSFI(int(sfi)); err != nil {
		return m, m.failStop(err)
	}
	if err := m.checkRecordNumber(from); err != nil {
		return m, m.failStop(err)
	}
	if err := m.checkRecordNumber(to); err != nil {
		return m, m.failStop(err)
	}
	if to < from {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "read_records: to (%d) < from (%d)", to, from))
	}
	if to == from {
		return m.PrepareReadRecord(sfi, from)
	}

	perAPDU := 1
	if recordSize > 0 && m.Image.PayloadCapacity > 0 {
		perAPDU = m.Image.PayloadCapacity / (recordSize + 2)
		if perAPDU < 1 {
			perAPDU = 1
		}
	}

	for start := from; start <= to; start += perAPDU {
		end := start + perAPDU - 1
		if end > to {
			end = to
		}
		if end == start {
			if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: sfi, FromRecord: start, ToRecord: start, RecordSize: recordSize}}); err != nil {
				return m, err
			}
			continue
		}
		if err := m.enqueue(&command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: sfi, FromRecord: start, ToRecord: end, RecordSize: recordSize}}); err != nil {
			return m, err
		}
	}
	return m, nil
}

// PrepareReadRecordsPartially reads a byte window of each record in
// [from,to] via READ_RECORD_MULTIPLE.
func (m *Manager) PrepareReadRecordsPartially(sfi byte, from, to, offset, nbBytes int) (*Manager, error) {
	if err := m.checkSFI(int(sfi)); err != nil {
		return m, m.failStop(err)
	}
	for n := from; n <= to; n++ {
		c := &command.Command{Ctx: command.Context{Ref: command.RefReadRecordMultiple, SFI: sfi, RecordNumber: n, Offset: offset, NbBytes: nbBytes}}
		if err := m.enqueue(c); err != nil {
			return m, err
		}
	}
	return m, nil
}

// PrepareReadBinary reads nbBytes at offset, chunked by
// card.payload_capacity, preceded by a one-byte selection-tip READ_BINARY
// when sfi>0 && offset>255.
func (m *Manager) PrepareReadBinary(sfi byte, offset, nbBytes int) (*Manager, error) {
	if offset < 0 || offset > 32767 {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "binary offset %d out of range [0,32767]", offset))
	}
	if sfi != 0 && offset > 255 {
		tip := &command.Command{Ctx: command.Context{Ref: command.RefReadBinary, SFI: sfi, Offset: 0, NbBytes: 1}}
		if err := m.enqueue(tip); err != nil {
			return m, err
		}
	}
	chunk := m.Image.PayloadCapacity
	if chunk <= 0 {
		chunk = nbBytes
	}
	for remaining, off := nbBytes, offset; remaining > 0; {
		n := remaining
		if n > chunk {
			n = chunk
		}
		c := &command.Command{Ctx: command.Context{Ref: command.RefReadBinary, SFI: sfi, Offset: off, NbBytes: n}}
		if err := m.enqueue(c); err != nil {
			return m, err
		}
		remaining -= n
		off += n
	}
	return m, nil
}

// PrepareReadCounter reads nCounters counters from SFI sfi via
// READ_RECORDS on the counter file's single record.
func (m *Manager) PrepareReadCounter(sfi byte, nCounters int) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefReadRecords, SFI: sfi, FromRecord: 1, ToRecord: 1, RecordSize: nCounters * 3}}
	return m, m.enqueue(c)
}

// PrepareSearchRecords searches records of SFI sfi for data.
func (m *Manager) PrepareSearchRecords(sfi byte, data []byte) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefSearchRecordMultiple, SFI: sfi, SearchData: data}}
	return m, m.enqueue(c)
}

func (m *Manager) writeLikeRecord(ref command.Ref, sfi byte, n int, data []byte) (*Manager, error) {
	if err := m.checkSFI(int(sfi)); err != nil {
		return m, m.failStop(err)
	}
	c := &command.Command{Ctx: command.Context{Ref: ref, SFI: sfi, RecordNumber: n, Data: data}}
	return m, m.enqueue(c)
}

func (m *Manager) PrepareAppendRecord(sfi byte, data []byte) (*Manager, error) {
	return m.writeLikeRecord(command.RefAppendRecord, sfi, 0, data)
}

func (m *Manager) PrepareUpdateRecord(sfi byte, n int, data []byte) (*Manager, error) {
	return m.writeLikeRecord(command.RefUpdateRecord, sfi, n, data)
}

func (m *Manager) PrepareWriteRecord(sfi byte, n int, data []byte) (*Manager, error) {
	return m.writeLikeRecord(command.RefWriteRecord, sfi, n, data)
}

func (m *Manager) binaryChunks(ref command.Ref, sfi byte, offset int, data []byte) (*Manager, error) {
	if offset < 0 || offset > 32767 {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "binary offset %d out of range [0,32767]", offset))
	}
	if sfi != 0 && offset > 255 {
		tip := &command.Command{Ctx: command.Context{Ref: command.RefReadBinary, SFI: sfi, Offset: 0, NbBytes: 1}}
		if err := m.enqueue(tip); err != nil {
			return m, err
		}
	}
	chunk := m.Image.PayloadCapacity
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		c := &command.Command{Ctx: command.Context{Ref: ref, SFI: sfi, Offset: offset + off, Data: data[off:end]}}
		if err := m.enqueue(c); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (m *Manager) PrepareUpdateBinary(sfi byte, offset int, data []byte) (*Manager, error) {
	return m.binaryChunks(command.RefUpdateBinary, sfi, offset, data)
}

func (m *Manager) PrepareWriteBinary(sfi byte, offset int, data []byte) (*Manager, error) {
	return m.binaryChunks(command.RefWriteBinary, sfi, offset, data)
}

func (m *Manager) PrepareIncreaseCounter(sfi byte, counterID, amount int) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefIncrease, SFI: sfi, CounterID: counterID, SVAmount: amount}}
	return m, m.enqueue(c)
}

func (m *Manager) PrepareDecreaseCounter(sfi byte, counterID, amount int) (*Manager, error) {
	c := &command.Command{Ctx: command.Context{Ref: command.RefDecrease, SFI: sfi, CounterID: counterID, SVAmount: amount}}
	return m, m.enqueue(c)
}

// prepareCounterMultiple chunks deltas by ⌊payload/4⌋ counters per APDU,
// falling back to single increase/decrease commands when the card does
// not support the multiple variant.
func (m *Manager) prepareCounterMultiple(ref, singleRef command.Ref, sfi byte, deltas map[int]int, supportsMultiple bool) (*Manager, error) {
	if !supportsMultiple {
		for id, delta := range deltas {
			c := &command.Command{Ctx: command.Context{Ref: singleRef, SFI: sfi, CounterID: id, SVAmount: delta}}
			if err := m.enqueue(c); err != nil {
				return m, err
			}
		}
		return m, nil
	}

	perAPDU := 1
	if m.Image.PayloadCapacity > 0 {
		perAPDU = m.Image.PayloadCapacity / 4
		if perAPDU < 1 {
			perAPDU = 1
		}
	}

	batch := make(map[int]int, perAPDU)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		c := &command.Command{Ctx: command.Context{Ref: ref, SFI: sfi, Deltas: batch}}
		if err := m.enqueue(c); err != nil {
			return err
		}
		batch = make(map[int]int, perAPDU)
		return nil
	}

	for id, delta := range deltas {
		batch[id] = delta
		if len(batch) == perAPDU {
			if err := flush(); err != nil {
				return m, err
			}
		}
	}
	if err := flush(); err != nil {
		return m, err
	}
	return m, nil
}

func (m *Manager) PrepareIncreaseCounters(sfi byte, deltas map[int]int) (*Manager, error) {
	return m.prepareCounterMultiple(command.RefIncreaseMultiple, command.RefIncrease, sfi, deltas, m.Image.ExtendedModeSupported)
}

func (m *Manager) PrepareDecreaseCounters(sfi byte, deltas map[int]int) (*Manager, error) {
	return m.prepareCounterMultiple(command.RefDecreaseMultiple, command.RefDecrease, sfi, deltas, m.Image.ExtendedModeSupported)
}

// PrepareSetCounter reads the counter's existing value and emits a single
// increase or decrease for the delta; fails if the current value is
// unknown.
func (m *Manager) PrepareSetCounter(sfi byte, n, newValue int) (*Manager, error) {
	cur, ok := m.Image.GetCounter(sfi, n)
	if !ok {
		return m, m.failStop(calypsoerr.Newf(calypsoerr.IllegalArgument, "current value of counter %d in sfi %02X is unknown", n, sfi))
	}
	delta := newValue - cur
	if delta == 0 {
		return m, nil
	}
	if delta > 0 {
		return m.PrepareIncreaseCounter(sfi, n, delta)
	}
	return m.PrepareDecreaseCounter(sfi, n, -delta)
}
