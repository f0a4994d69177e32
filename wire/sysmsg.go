package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Tag identifies the kind of a system-channel record.
type Tag uint16

// The four system-channel message tags, per the sideband record format.
const (
	TagQueueSizeUpdate Tag = 1
	TagFileMeta        Tag = 2
	TagFilePatchMap    Tag = 3
	TagControl         Tag = 4
)

// QueueSizeUpdate reports the sender's current queue depth.
type QueueSizeUpdate struct {
	QueueSize uint32
}

// FileMeta is emitted at most once per (path, sha256) pair.
type FileMeta struct {
	FileID        uint64
	Name          string
	OriginalSize  uint64
	TotalPatches  uint32
	SHA256        [32]byte
}

// FilePatchMap is emitted once per chunk as it is enqueued.
type FilePatchMap struct {
	FileID     uint64
	PatchIndex uint32
}

// Control carries a control-status update: total and active connection
// counts packed into the two generic fields the wire format offers.
type Control struct {
	Command      byte
	ValueSeconds uint32
}

// WriteQueueSizeUpdate writes a tagged QueueSizeUpdate record to w.
func WriteQueueSizeUpdate(w io.Writer, m QueueSizeUpdate) error {
	if err := binary.Write(w, binary.LittleEndian, TagQueueSizeUpdate); err != nil {
		return errors.Wrap(err, "writing tag")
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, m.QueueSize), "writing queue_size")
}

// WriteFileMeta writes a tagged FileMeta record to w.
func WriteFileMeta(w io.Writer, m FileMeta) error {
	if err := binary.Write(w, binary.LittleEndian, TagFileMeta); err != nil {
		return errors.Wrap(err, "writing tag")
	}
	if err := binary.Write(w, binary.LittleEndian, m.FileID); err != nil {
		return errors.Wrap(err, "writing file_id")
	}
	nameBytes := []byte(m.Name)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
		return errors.Wrap(err, "writing name length")
	}
	if _, err := w.Write(nameBytes); err != nil {
		return errors.Wrap(err, "writing name")
	}
	if err := binary.Write(w, binary.LittleEndian, m.OriginalSize); err != nil {
		return errors.Wrap(err, "writing original_size")
	}
	if err := binary.Write(w, binary.LittleEndian, m.TotalPatches); err != nil {
		return errors.Wrap(err, "writing total_patches")
	}
	_, err := w.Write(m.SHA256[:])
	return errors.Wrap(err, "writing sha256")
}

// WriteFilePatchMap writes a tagged FilePatchMap record to w.
func WriteFilePatchMap(w io.Writer, m FilePatchMap) error {
	if err := binary.Write(w, binary.LittleEndian, TagFilePatchMap); err != nil {
		return errors.Wrap(err, "writing tag")
	}
	if err := binary.Write(w, binary.LittleEndian, m.FileID); err != nil {
		return errors.Wrap(err, "writing file_id")
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, m.PatchIndex), "writing patch_index")
}

// WriteControl writes a tagged Control record to w.
func WriteControl(w io.Writer, m Control) error {
	if err := binary.Write(w, binary.LittleEndian, TagControl); err != nil {
		return errors.Wrap(err, "writing tag")
	}
	if err := binary.Write(w, binary.LittleEndian, m.Command); err != nil {
		return errors.Wrap(err, "writing command")
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, m.ValueSeconds), "writing value_seconds")
}

// ReadTag reads and consumes the next record's tag from r, leaving the
// rest of the record unread.
func ReadTag(r io.Reader) (Tag, error) {
	var t Tag
	err := binary.Read(r, binary.LittleEndian, &t)
	return t, errors.Wrap(err, "reading tag")
}

// ReadQueueSizeUpdate reads the body of a QueueSizeUpdate record, assuming
// the tag has already been consumed by ReadTag.
func ReadQueueSizeUpdate(r io.Reader) (QueueSizeUpdate, error) {
	var m QueueSizeUpdate
	err := binary.Read(r, binary.LittleEndian, &m.QueueSize)
	return m, errors.Wrap(err, "reading queue_size")
}

// ReadFileMeta reads the body of a FileMeta record, assuming the tag has
// already been consumed by ReadTag.
func ReadFileMeta(r io.Reader) (FileMeta, error) {
	var m FileMeta
	if err := binary.Read(r, binary.LittleEndian, &m.FileID); err != nil {
		return m, errors.Wrap(err, "reading file_id")
	}
	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return m, errors.Wrap(err, "reading name length")
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return m, errors.Wrap(err, "reading name")
	}
	m.Name = string(nameBytes)
	if err := binary.Read(r, binary.LittleEndian, &m.OriginalSize); err != nil {
		return m, errors.Wrap(err, "reading original_size")
	}
	if err := binary.Read(r, binary.LittleEndian, &m.TotalPatches); err != nil {
		return m, errors.Wrap(err, "reading total_patches")
	}
	_, err := io.ReadFull(r, m.SHA256[:])
	return m, errors.Wrap(err, "reading sha256")
}

// ReadFilePatchMap reads the body of a FilePatchMap record, assuming the
// tag has already been consumed by ReadTag.
func ReadFilePatchMap(r io.Reader) (FilePatchMap, error) {
	var m FilePatchMap
	if err := binary.Read(r, binary.LittleEndian, &m.FileID); err != nil {
		return m, errors.Wrap(err, "reading file_id")
	}
	err := binary.Read(r, binary.LittleEndian, &m.PatchIndex)
	return m, errors.Wrap(err, "reading patch_index")
}

// ReadControl reads the body of a Control record, assuming the tag has
// already been consumed by ReadTag.
func ReadControl(r io.Reader) (Control, error) {
	var m Control
	if err := binary.Read(r, binary.LittleEndian, &m.Command); err != nil {
		return m, errors.Wrap(err, "reading command")
	}
	err := binary.Read(r, binary.LittleEndian, &m.ValueSeconds)
	return m, errors.Wrap(err, "reading value_seconds")
}
