package wire

import (
	"bytes"
	"testing"
)

func TestQueueSizeUpdateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueueSizeUpdate(&buf, QueueSizeUpdate{QueueSize: 17}); err != nil {
		t.Fatal(err)
	}

	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if tag != TagQueueSizeUpdate {
		t.Fatalf("got tag %d, want %d", tag, TagQueueSizeUpdate)
	}

	got, err := ReadQueueSizeUpdate(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.QueueSize != 17 {
		t.Fatalf("got %d, want 17", got.QueueSize)
	}
}

func TestFileMetaRoundTrip(t *testing.T) {
	want := FileMeta{
		FileID:       123456789,
		Name:         "report.bin",
		OriginalSize: 9876543210,
		TotalPatches: 42,
	}
	for i := range want.SHA256 {
		want.SHA256[i] = byte(i)
	}

	var buf bytes.Buffer
	if err := WriteFileMeta(&buf, want); err != nil {
		t.Fatal(err)
	}

	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if tag != TagFileMeta {
		t.Fatalf("got tag %d, want %d", tag, TagFileMeta)
	}

	got, err := ReadFileMeta(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFilePatchMapRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := FilePatchMap{FileID: 7, PatchIndex: 3}
	if err := WriteFilePatchMap(&buf, want); err != nil {
		t.Fatal(err)
	}

	if tag, err := ReadTag(&buf); err != nil || tag != TagFilePatchMap {
		t.Fatalf("tag = %v, %v", tag, err)
	}
	got, err := ReadFilePatchMap(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestControlRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Control{Command: 1, ValueSeconds: 5}
	if err := WriteControl(&buf, want); err != nil {
		t.Fatal(err)
	}

	if tag, err := ReadTag(&buf); err != nil || tag != TagControl {
		t.Fatalf("tag = %v, %v", tag, err)
	}
	got, err := ReadControl(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
