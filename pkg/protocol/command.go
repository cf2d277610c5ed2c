package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/NicolasHaas/gostep/pkg/model"
)

const (
	// CommandSize is the packed size of one command record:
	// [unitID(4) | type(4) | unitType(4) | targetX(8) | targetY(8)] = 28 bytes
	CommandSize = 28

	// CountSize is the size of the batch count prefix.
	CountSize = 4

	// MaxBatchCommands is the default upper bound on a received batch count.
	MaxBatchCommands = 4096
)

var ErrBatchTooLarge = errors.New("protocol: batch too large")

// AppendCommand appends the 28-byte little-endian encoding of c to dst.
func AppendCommand(dst []byte, c model.Command) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, c.UnitID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(c.Type))
	dst = binary.LittleEndian.AppendUint32(dst, c.UnitType)
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(c.TargetX))
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(c.TargetY))
	return dst
}

// DecodeCommand decodes one record. b must hold at least CommandSize bytes.
func DecodeCommand(b []byte) model.Command {
	_ = b[CommandSize-1]
	return model.Command{
		UnitID:   binary.LittleEndian.Uint32(b[0:4]),
		Type:     model.CommandType(binary.LittleEndian.Uint32(b[4:8])),
		UnitType: binary.LittleEndian.Uint32(b[8:12]),
		TargetX:  math.Float64frombits(binary.LittleEndian.Uint64(b[12:20])),
		TargetY:  math.Float64frombits(binary.LittleEndian.Uint64(b[20:28])),
	}
}

// EncodeBatch encodes a full batch: uint32 count followed by the records.
func EncodeBatch(cmds []model.Command) []byte {
	buf := make([]byte, 0, CountSize+len(cmds)*CommandSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cmds))) //nolint:gosec // batch length bounded by MaxBatchCommands per player
	for _, c := range cmds {
		buf = AppendCommand(buf, c)
	}
	return buf
}

// DecodeBatch reads one batch from r. Counts above limit are rejected before
// anything is allocated; limit <= 0 means MaxBatchCommands.
func DecodeBatch(r io.Reader, limit int) ([]model.Command, error) {
	if limit <= 0 {
		limit = MaxBatchCommands
	}
	var countBuf [CountSize]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("protocol: read count: %w", err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	if uint64(count) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d commands (limit %d)", ErrBatchTooLarge, count, limit)
	}
	if count == 0 {
		return []model.Command{}, nil
	}

	data := make([]byte, int(count)*CommandSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read commands: %w", err)
	}
	cmds := make([]model.Command, count)
	for i := range cmds {
		cmds[i] = DecodeCommand(data[i*CommandSize:])
	}
	return cmds, nil
}

// ReadBatch blocks until a whole batch has been received.
func (t *Transport) ReadBatch(limit int) ([]model.Command, error) {
	t.armRead(0)
	return DecodeBatch(t.r, limit)
}

// WriteBatch sends a whole batch in a single write.
func (t *Transport) WriteBatch(cmds []model.Command) error {
	if _, err := t.conn.Write(EncodeBatch(cmds)); err != nil {
		return fmt.Errorf("protocol: write batch: %w", err)
	}
	return nil
}
