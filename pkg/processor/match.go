package processor

// Match computes the pairwise correspondence of record identifiers across
// datasets: an identifier survives iff it is present in every list. The
// result follows the ordering of the first list. Identifiers present in
// only a strict subset of the datasets are excluded from processing
// entirely; this is deliberate policy, not an error.
func Match(lists [][]string) []string {
	if len(lists) == 0 {
		return nil
	}
	if len(lists) == 1 {
		out := make([]string, len(lists[0]))
		copy(out, lists[0])
		return out
	}

	sets := make([]map[string]struct{}, len(lists)-1)
	for i, list := range lists[1:] {
		sets[i] = make(map[string]struct{}, len(list))
		for _, id := range list {
			sets[i][id] = struct{}{}
		}
	}

	var out []string
	for _, id := range lists[0] {
		everywhere := true
		for _, set := range sets {
			if _, ok := set[id]; !ok {
				everywhere = false
				break
			}
		}
		if everywhere {
			out = append(out, id)
		}
	}
	return out
}
