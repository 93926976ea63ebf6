package manifest

import (
	"fmt"

	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

// validateRawManifest checks the schema constraints that decoding alone
// cannot express: primary filename XOR hash, and name uniqueness among
// additional entries.
func validateRawManifest(m *RawManifest) error {
	if m.Version == "" {
		return werrors.New(werrors.KindManifestInvalid, "manifest missing required field \"version\"", nil)
	}
	hasFilename := m.Primary.Filename != ""
	hasHash := m.Primary.Hash != ""
	if hasFilename == hasHash {
		return werrors.New(werrors.KindManifestInvalid, "manifest.primary must declare exactly one of filename or hash", nil)
	}

	seen := make(map[string]struct{}, len(m.Additional))
	for _, a := range m.Additional {
		if a.Name == "" {
			return werrors.New(werrors.KindManifestInvalid, "manifest.additional entry missing required field \"name\"", nil)
		}
		if _, dup := seen[a.Name]; dup {
			return werrors.New(werrors.KindManifestInvalid, fmt.Sprintf("manifest.additional contains duplicate name %q", a.Name), nil)
		}
		seen[a.Name] = struct{}{}

		hasFilename := a.Filename != ""
		hasHash := a.Hash != ""
		if hasFilename == hasHash {
			return werrors.New(werrors.KindManifestInvalid, fmt.Sprintf("manifest.additional entry %q must declare exactly one of filename or hash", a.Name), nil)
		}
	}
	return nil
}

// validateOutcomesLength checks that the outcomes vector length equals
// NUMBER_OF_OUTCOMES.
func validateOutcomesLength(outcomes []string, numberOfOutcomes int) error {
	if len(outcomes) != numberOfOutcomes {
		return werrors.New(werrors.KindManifestInvalid,
			fmt.Sprintf("outcomes length %d does not match NUMBER_OF_OUTCOMES %d", len(outcomes), numberOfOutcomes), nil)
	}
	return nil
}

// validateBCIDBinding checks that every bCID archive's manifest.name equals
// one of the keys in the primary manifest's bCIDs map, and every key in
// bCIDs is referenced by exactly one archive.
func validateBCIDBinding(primaryBCIDs map[string]string, bCIDManifests []*RawManifest) error {
	claimed := make(map[string]int, len(primaryBCIDs))
	for _, m := range bCIDManifests {
		if m.Name == "" {
			return werrors.New(werrors.KindManifestInvalid, "bCID archive manifest missing required field \"name\"", nil)
		}
		if _, ok := primaryBCIDs[m.Name]; !ok {
			return werrors.New(werrors.KindManifestInvalid,
				fmt.Sprintf("bCID archive name %q is not declared in primary manifest's bCIDs map", m.Name), nil)
		}
		claimed[m.Name]++
	}
	for key := range primaryBCIDs {
		if claimed[key] != 1 {
			return werrors.New(werrors.KindManifestInvalid,
				fmt.Sprintf("primary manifest's bCIDs key %q is not referenced by exactly one archive (got %d)", key, claimed[key]), nil)
		}
	}
	return nil
}
