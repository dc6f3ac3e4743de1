package registry

import (
	"encoding/json"
	"os"

	"pricingd/pkg/types"
)

func writeMetadata(path string, info types.VersionInfo) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadMetadata loads the metadata file stored beside an artifact. Used when
// the filesystem copy is the only source available (e.g. restoring backups).
func ReadMetadata(path string) (types.VersionInfo, error) {
	var info types.VersionInfo
	b, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(b, &info)
	return info, err
}
