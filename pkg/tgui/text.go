package tgui

// TruncRunes keeps the first n runes of s, marking a cut with a trailing "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	kept := 0
	for i := range s {
		if kept == n {
			return s[:i] + "…"
		}
		kept++
	}
	return s
}
