package research

// DedupSources merges the source lists of several tasks into one list with a
// single entry per URL, keeping the first occurrence in task order.
func DedupSources(lists ...[]Source) []Source {
	return dedupByURL(func(s Source) string { return s.URL }, lists...)
}

// DedupImages is DedupSources for images.
func DedupImages(lists ...[]ImageSource) []ImageSource {
	return dedupByURL(func(i ImageSource) string { return i.URL }, lists...)
}

func dedupByURL[T any](key func(T) string, lists ...[]T) []T {
	seen := make(map[string]bool)
	out := []T{}
	for _, list := range lists {
		for _, item := range list {
			k := key(item)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, item)
		}
	}
	return out
}
