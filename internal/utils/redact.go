package utils

// Redact keeps the last n characters of a secret for display, e.g. "...7890".
func Redact(secret string, n int) string {
	runes := []rune(secret)
	if n <= 0 || len(runes) <= n {
		return "..."
	}
	return "..." + string(runes[len(runes)-n:])
}
