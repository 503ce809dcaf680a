package newsapi

// FilterRemoved drops articles whose title is the removed-content sentinel.
// The input slice is not modified.
func FilterRemoved(articles []Article) []Article {
	kept := make([]Article, 0, len(articles))
	for _, a := range articles {
		if a.Title == RemovedTitle {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}
