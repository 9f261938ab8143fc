// ABOUTME: Deterministic conversation key for a two-party message thread
// ABOUTME: Sorts both participant IDs and joins them so either side derives the same key

package convkey

// Separator joins the two sorted participant IDs.
const Separator = ":"

// Build returns the conversation key shared by participants a and b.
// The result does not depend on argument order. ok is false if either ID is empty.
func Build(a, b string) (key string, ok bool) {
	if a == "" || b == "" {
		return "", false
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, true
}
