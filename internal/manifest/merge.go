package manifest

import (
	"fmt"
	"sort"

	"abrstream/internal/segments"
)

// Merge folds a freshly normalized live refresh into the manifest already
// handed out to the rest of the pipeline. Existing Period, Adaptation and
// Representation objects are updated in place, field by field: scalars are
// overwritten, the segment index data is replaced wholesale inside the index
// the representation already owns. Callers holding a Representation therefore
// see the refreshed index without re-resolving anything.
func Merge(old, next *Manifest) error {
	if old == nil || next == nil {
		return fmt.Errorf("merge requires both manifests")
	}

	old.IsLive = next.IsLive
	old.Duration = next.Duration
	old.SuggestedPresentationDelay = next.SuggestedPresentationDelay
	old.MinimumUpdatePeriod = next.MinimumUpdatePeriod
	if len(next.BaseURLs) > 0 {
		old.BaseURLs = next.BaseURLs
	}

	for _, np := range next.Periods {
		op := findPeriod(old, np.ID)
		if op == nil {
			// A period appearing mid-stream is attached as-is.
			old.Periods = append(old.Periods, np)
			continue
		}
		op.Start = np.Start
		op.Duration = np.Duration

		for _, na := range np.Adaptations {
			oa := findAdaptation(op, na.ID)
			if oa == nil {
				op.Adaptations = append(op.Adaptations, na)
				continue
			}
			oa.Lang = na.Lang

			for _, nr := range na.Representations {
				or := findRepresentation(oa, nr.ID)
				if or == nil {
					oa.Representations = append(oa.Representations, nr)
					continue
				}
				or.Bitrate = nr.Bitrate
				or.Codecs = nr.Codecs
				or.MimeType = nr.MimeType
				or.Width = nr.Width
				or.Height = nr.Height
				mergeIndex(or, nr)
			}

			sort.SliceStable(oa.Representations, func(i, j int) bool {
				return oa.Representations[i].Bitrate < oa.Representations[j].Bitrate
			})
			oa.Bitrates = oa.Bitrates[:0]
			for _, r := range oa.Representations {
				oa.Bitrates = append(oa.Bitrates, r.Bitrate)
			}
		}
	}

	old.resetLiveGap()
	return nil
}

// mergeIndex refreshes the old representation's index in place from the new
// one. Matching variants copy their data across; a variant change swaps the
// index object itself, which is the one case where holders see a new index.
func mergeIndex(or, nr *Representation) {
	switch oldIdx := or.Index.(type) {
	case *segments.Timeline:
		if newIdx, ok := nr.Index.(*segments.Timeline); ok {
			oldIdx.Replace(newIdx.Timescale(), newIdx.Entries())
			return
		}
	case *segments.Template:
		if newIdx, ok := nr.Index.(*segments.Template); ok {
			oldIdx.Replace(newIdx.Config())
			if edge, ok := newIdx.LiveEdge(); ok {
				oldIdx.SetLiveEdge(edge)
			}
			return
		}
	}
	or.Index = nr.Index
}

func findPeriod(m *Manifest, id string) *Period {
	for _, p := range m.Periods {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func findAdaptation(p *Period, id string) *Adaptation {
	for _, a := range p.Adaptations {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func findRepresentation(a *Adaptation, id string) *Representation {
	for _, r := range a.Representations {
		if r.ID == id {
			return r
		}
	}
	return nil
}
