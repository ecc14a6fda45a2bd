package backing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
)

// Layout manages the on-disk artifacts under one storage root:
// sparse replica backing files on the SDS side, mapping descriptors
// and device aliases on the SDC side.
//
//	<root>/sds/<node>/volumes/vol_<id>.img
//	<root>/sdc/<node>/mappings/vol_<id>.json
//	<root>/sdc/<node>/devices/naa.<wwn>.img
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at the given directory
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: storage root is required", types.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Layout{root: root}, nil
}

// Root returns the storage root directory
func (l *Layout) Root() string {
	return l.root
}

// VolumePath returns the backing file path for a volume on an SDS node
func (l *Layout) VolumePath(node string, volumeID uint64) string {
	return filepath.Join(l.root, "sds", node, "volumes", fmt.Sprintf("vol_%d.img", volumeID))
}

// MappingPath returns the mapping descriptor path for a volume on an SDC node
func (l *Layout) MappingPath(node string, volumeID uint64) string {
	return filepath.Join(l.root, "sdc", node, "mappings", fmt.Sprintf("vol_%d.json", volumeID))
}

// DevicePath returns the device alias path for a wwn on an SDC node
func (l *Layout) DevicePath(node, wwn string) string {
	return filepath.Join(l.root, "sdc", node, "devices", fmt.Sprintf("naa.%s.img", wwn))
}

// DeviceWWN derives the stable 16-hex device identifier for a volume
func DeviceWWN(clusterName string, volumeID uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/vol_%d", clusterName, volumeID)))
	return hex.EncodeToString(sum[:8])
}

// EnsureVolumeFile creates the sparse backing file for a volume if it
// does not exist yet, sized to sizeBytes. Existing files are left alone
// so replica data survives re-registration.
func (l *Layout) EnsureVolumeFile(node string, volumeID uint64, sizeBytes int64) (string, error) {
	path := l.VolumePath(node, volumeID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create volumes directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create backing file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() < sizeBytes {
		if err := f.Truncate(sizeBytes); err != nil {
			return "", fmt.Errorf("failed to size backing file: %w", err)
		}
	}
	return path, nil
}

// ResizeVolumeFile grows the backing file to the new size
func (l *Layout) ResizeVolumeFile(node string, volumeID uint64, sizeBytes int64) error {
	path := l.VolumePath(node, volumeID)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			_, err = l.EnsureVolumeFile(node, volumeID, sizeBytes)
			return err
		}
		return err
	}
	defer f.Close()
	return f.Truncate(sizeBytes)
}

// RemoveVolumeFile deletes the backing file; missing files are not an error
func (l *Layout) RemoveVolumeFile(node string, volumeID uint64) error {
	err := os.Remove(l.VolumePath(node, volumeID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MappingDescriptor is the JSON artifact published on an SDC host when
// a volume is mapped to it
type MappingDescriptor struct {
	VolumeID    uint64           `json:"volume_id"`
	VolumeName  string           `json:"volume_name"`
	SDCID       uint64           `json:"sdc_id"`
	AccessMode  types.AccessMode `json:"access_mode"`
	SizeBytes   int64            `json:"size_bytes"`
	Replicas    []string         `json:"replicas,omitempty"`
	DeviceAlias string           `json:"device_alias,omitempty"`
	MappedAt    time.Time        `json:"mapped_at"`
}

// WriteMappingDescriptor publishes the mapping descriptor for a volume
func (l *Layout) WriteMappingDescriptor(node string, desc *MappingDescriptor) (string, error) {
	path := l.MappingPath(node, desc.VolumeID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create mappings directory: %w", err)
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write mapping descriptor: %w", err)
	}
	return path, nil
}

// ReadMappingDescriptor loads a published mapping descriptor
func (l *Layout) ReadMappingDescriptor(node string, volumeID uint64) (*MappingDescriptor, error) {
	data, err := os.ReadFile(l.MappingPath(node, volumeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: mapping descriptor for volume %d", types.ErrNotFound, volumeID)
		}
		return nil, err
	}
	var desc MappingDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// RemoveMappingDescriptor deletes the mapping descriptor; missing files
// are not an error
func (l *Layout) RemoveMappingDescriptor(node string, volumeID uint64) error {
	err := os.Remove(l.MappingPath(node, volumeID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CreateDeviceAlias exposes target under a stable device name on the
// SDC host. Hard link first (same filesystem, shares blocks), then
// symlink, then a plain copy as the last resort.
func (l *Layout) CreateDeviceAlias(node, wwn, target string) (string, error) {
	alias := l.DevicePath(node, wwn)
	if err := os.MkdirAll(filepath.Dir(alias), 0o755); err != nil {
		return "", fmt.Errorf("failed to create devices directory: %w", err)
	}

	// Drop a stale alias from a previous mapping
	if err := os.Remove(alias); err != nil && !os.IsNotExist(err) {
		return "", err
	}

	if err := os.Link(target, alias); err == nil {
		return alias, nil
	}
	if err := os.Symlink(target, alias); err == nil {
		return alias, nil
	}
	if err := copyFile(target, alias); err != nil {
		return "", fmt.Errorf("failed to create device alias: %w", err)
	}
	return alias, nil
}

// RemoveDeviceAlias deletes the device alias; missing files are not an error
func (l *Layout) RemoveDeviceAlias(node, wwn string) error {
	err := os.Remove(l.DevicePath(node, wwn))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteAt writes data into a volume's backing file at a volume-absolute
// offset and flushes before returning. The file is created on demand so
// a write can land before init_volume.
func (l *Layout) WriteAt(node string, volumeID uint64, data []byte, offset int64) error {
	path := l.VolumePath(node, volumeID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open backing file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write backing file: %w", err)
	}
	return f.Sync()
}

// ReadAt reads length bytes from a volume's backing file at a
// volume-absolute offset. Reads past the written extent return zeroes,
// matching sparse-file semantics.
func (l *Layout) ReadAt(node string, volumeID uint64, offset int64, length int) ([]byte, error) {
	path := l.VolumePath(node, volumeID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: backing file for volume %d", types.ErrNotFound, volumeID)
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read backing file: %w", err)
	}
	return buf, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
