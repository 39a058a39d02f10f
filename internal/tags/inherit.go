package tags

// Inherit computes a task's effective tag set as the deduplicated union of
// play tags, role tags (in entry order), block tags (in nesting order),
// include-scope tags, and the task's own tags.
func Inherit(playTags, roleTags, blockTags, includeTags, taskTags []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(list []string) {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	add(playTags)
	add(roleTags)
	add(blockTags)
	add(includeTags)
	add(taskTags)
	return out
}
