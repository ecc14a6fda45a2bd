package backing

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
)

func TestNewLayout(t *testing.T) {
	tmpDir := t.TempDir()

	layout, err := NewLayout(tmpDir)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if layout.Root() != tmpDir {
		t.Errorf("Root() = %v, want %v", layout.Root(), tmpDir)
	}

	if _, err := NewLayout(""); err == nil {
		t.Error("NewLayout(\"\") should fail")
	}
}

func TestEnsureVolumeFileSparse(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	path, err := layout.EnsureVolumeFile("sds-1", 1, 64<<20)
	if err != nil {
		t.Fatalf("EnsureVolumeFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("backing file not created: %v", err)
	}
	if info.Size() != 64<<20 {
		t.Errorf("size = %d, want %d", info.Size(), 64<<20)
	}

	// Idempotent: a second call must not shrink or error
	if _, err := layout.EnsureVolumeFile("sds-1", 1, 32<<20); err != nil {
		t.Fatalf("second EnsureVolumeFile() error = %v", err)
	}
	info, _ = os.Stat(path)
	if info.Size() != 64<<20 {
		t.Errorf("size after re-ensure = %d, want %d", info.Size(), 64<<20)
	}
}

func TestResizeVolumeFile(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	path, _ := layout.EnsureVolumeFile("sds-1", 2, 4<<20)
	if err := layout.ResizeVolumeFile("sds-1", 2, 8<<20); err != nil {
		t.Fatalf("ResizeVolumeFile() error = %v", err)
	}

	info, _ := os.Stat(path)
	if info.Size() != 8<<20 {
		t.Errorf("size = %d, want %d", info.Size(), 8<<20)
	}

	// Resizing a missing file creates it
	if err := layout.ResizeVolumeFile("sds-9", 7, 4<<20); err != nil {
		t.Fatalf("ResizeVolumeFile() on missing file error = %v", err)
	}
	info, err := os.Stat(layout.VolumePath("sds-9", 7))
	if err != nil {
		t.Fatalf("backing file not created on resize: %v", err)
	}
	if info.Size() != 4<<20 {
		t.Errorf("size = %d, want %d", info.Size(), 4<<20)
	}
}

func TestRemoveVolumeFile(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	path, _ := layout.EnsureVolumeFile("sds-1", 3, 1<<20)
	if err := layout.RemoveVolumeFile("sds-1", 3); err != nil {
		t.Fatalf("RemoveVolumeFile() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("backing file still exists after remove")
	}

	// Removing twice is fine
	if err := layout.RemoveVolumeFile("sds-1", 3); err != nil {
		t.Errorf("second RemoveVolumeFile() error = %v", err)
	}
}

func TestWriteAtReadAt(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	layout.EnsureVolumeFile("sds-1", 4, 16<<20)

	payload := []byte("quarry block data")
	if err := layout.WriteAt("sds-1", 4, payload, 4096); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	got, err := layout.ReadAt("sds-1", 4, 4096, len(payload))
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadAt() = %q, want %q", got, payload)
	}

	// Unwritten region reads back zeroes
	zeroes, err := layout.ReadAt("sds-1", 4, 1<<20, 512)
	if err != nil {
		t.Fatalf("ReadAt() zero region error = %v", err)
	}
	if !bytes.Equal(zeroes, make([]byte, 512)) {
		t.Error("unwritten region should read as zeroes")
	}

	// Missing backing file
	if _, err := layout.ReadAt("sds-1", 999, 0, 16); err == nil {
		t.Error("ReadAt() on missing file should fail")
	}
}

func TestMappingDescriptorRoundTrip(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	desc := &MappingDescriptor{
		VolumeID:   5,
		VolumeName: "vol-app",
		SDCID:      2,
		AccessMode: types.AccessReadWrite,
		SizeBytes:  8 << 20,
		MappedAt:   time.Now().UTC(),
	}
	path, err := layout.WriteMappingDescriptor("sdc-1", desc)
	if err != nil {
		t.Fatalf("WriteMappingDescriptor() error = %v", err)
	}
	if path != layout.MappingPath("sdc-1", 5) {
		t.Errorf("descriptor path = %v, want %v", path, layout.MappingPath("sdc-1", 5))
	}

	got, err := layout.ReadMappingDescriptor("sdc-1", 5)
	if err != nil {
		t.Fatalf("ReadMappingDescriptor() error = %v", err)
	}
	if got.VolumeName != "vol-app" || got.AccessMode != types.AccessReadWrite {
		t.Errorf("descriptor round trip mismatch: %+v", got)
	}

	if err := layout.RemoveMappingDescriptor("sdc-1", 5); err != nil {
		t.Fatalf("RemoveMappingDescriptor() error = %v", err)
	}
	if _, err := layout.ReadMappingDescriptor("sdc-1", 5); err == nil {
		t.Error("descriptor should be gone")
	}
}

func TestCreateDeviceAlias(t *testing.T) {
	layout, _ := NewLayout(t.TempDir())

	target, _ := layout.EnsureVolumeFile("sds-1", 6, 1<<20)
	layout.WriteAt("sds-1", 6, []byte("alias target"), 0)

	wwn := DeviceWWN("quarry", 6)
	if len(wwn) != 16 {
		t.Fatalf("DeviceWWN length = %d, want 16", len(wwn))
	}

	alias, err := layout.CreateDeviceAlias("sdc-1", wwn, target)
	if err != nil {
		t.Fatalf("CreateDeviceAlias() error = %v", err)
	}

	data, err := os.ReadFile(alias)
	if err != nil {
		t.Fatalf("alias not readable: %v", err)
	}
	if !bytes.Equal(data[:12], []byte("alias target")) {
		t.Error("alias does not expose target content")
	}

	// Re-creating over an existing alias replaces it
	if _, err := layout.CreateDeviceAlias("sdc-1", wwn, target); err != nil {
		t.Fatalf("second CreateDeviceAlias() error = %v", err)
	}

	if err := layout.RemoveDeviceAlias("sdc-1", wwn); err != nil {
		t.Fatalf("RemoveDeviceAlias() error = %v", err)
	}
	if _, err := os.Lstat(alias); !os.IsNotExist(err) {
		t.Error("alias still exists after remove")
	}
}

func TestDeviceWWNStable(t *testing.T) {
	a := DeviceWWN("quarry", 1)
	b := DeviceWWN("quarry", 1)
	c := DeviceWWN("quarry", 2)
	d := DeviceWWN("other", 1)

	if a != b {
		t.Error("DeviceWWN should be deterministic")
	}
	if a == c || a == d {
		t.Error("DeviceWWN should vary by volume and cluster")
	}
}
