package discovery

import (
	"fmt"
	"sort"

	"github.com/celldive/zarrpipe/internal/domain"
)

// Group partitions matches by region. Channels keep the order in which they
// were discovered; regions are returned sorted by id. A region that lists the
// same channel identity twice is rejected on its own and reported in the
// second return value.
func Group(matches []Match) ([]domain.Region, []*domain.Error) {
	byRegion := make(map[domain.RegionID][]Match)
	for _, m := range matches {
		byRegion[m.Region] = append(byRegion[m.Region], m)
	}

	ids := make([]domain.RegionID, 0, len(byRegion))
	for id := range byRegion {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var regions []domain.Region
	var rejected []*domain.Error
	for _, id := range ids {
		region, err := buildRegion(id, byRegion[id])
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		regions = append(regions, region)
	}
	return regions, rejected
}

func buildRegion(id domain.RegionID, matches []Match) (domain.Region, *domain.Error) {
	seen := make(map[string]string, len(matches))
	channels := make([]domain.ChannelDescriptor, 0, len(matches))
	for i, m := range matches {
		desc := domain.ChannelDescriptor{
			SourcePath:     m.Path,
			RegionID:       id,
			Round:          m.Round,
			Family:         m.Family,
			Marker:         m.Marker,
			DiscoveryIndex: i,
		}
		key := desc.Identity()
		if prev, dup := seen[key]; dup {
			return domain.Region{}, domain.ValidationError(id, "group",
				fmt.Errorf("%w: %q and %q", domain.ErrDuplicateChannel, prev, m.Path))
		}
		seen[key] = m.Path
		channels = append(channels, desc)
	}
	return domain.Region{ID: id, Channels: channels}, nil
}

// FilterRegions keeps only the allow-listed regions. Requested ids that have
// no region are returned as discovery errors. An empty allow-list keeps all.
func FilterRegions(regions []domain.Region, allow []domain.RegionID) ([]domain.Region, []*domain.Error) {
	if len(allow) == 0 {
		return regions, nil
	}
	present := make(map[domain.RegionID]bool, len(regions))
	for _, r := range regions {
		present[r.ID] = true
	}
	wanted := make(map[domain.RegionID]bool, len(allow))
	var missing []*domain.Error
	for _, id := range allow {
		if wanted[id] {
			continue
		}
		wanted[id] = true
		if !present[id] {
			missing = append(missing, domain.DiscoveryError(id, "filter", domain.ErrRegionNotFound))
		}
	}
	kept := regions[:0:0]
	for _, r := range regions {
		if wanted[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept, missing
}
