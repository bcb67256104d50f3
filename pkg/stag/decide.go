package stag

import (
	"k8s.io/klog/v2"

	"github.com/tstromberg/stag/pkg/xmp"
)

// ShouldTag returns true if an asset with the given sidecars needs tagging.
//
// An asset is considered tagged once any of its sidecars carries prefix as a flat keyword.
// Sidecars that fail to parse count as untagged.
func ShouldTag(sidecars []string, prefix string, force bool) bool {
	if force {
		return true
	}

	for _, s := range sidecars {
		d, err := xmp.Open(s)
		if err != nil {
			klog.Warningf("treating %s as untagged: %v", s, err)
			continue
		}
		if d.HasSubjectPrefix(prefix) {
			return false
		}
	}
	return true
}
