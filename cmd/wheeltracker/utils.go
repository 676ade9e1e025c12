package main

// shortID returns the first 8 characters of a trade ID for table output.
// Full IDs are available with --json.
func shortID(id string) string {
	n := 0
	for i := range id {
		if n == 8 {
			return id[:i]
		}
		n++
	}
	return id
}
