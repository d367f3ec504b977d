package chatsync

import "strings"

// offlineReply keeps the conversation usable while the RAG backend is down.
// It is a canned, subject-keyed response and is clearly not a real answer.
func offlineReply(message string) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "math", "algebra", "equation"):
		return "I'd be happy to help with your math question. Could you provide the specific problem you're working on? I can guide you through the solution step by step."
	case containsAny(lower, "science", "chemistry", "physics"):
		return "Science concepts can be fascinating! I can help explain scientific principles, walk through problems, or help you prepare for tests. What specific topic are you studying?"
	case containsAny(lower, "hello", "hi", "hey"):
		return "Hello! I'm your Tutortron AI tutor. I'm here to help you with any subject you're studying. What would you like to learn today?"
	case strings.Contains(lower, "thank"):
		return "You're welcome! If you have any more questions, feel free to ask. I'm here to help you succeed in your studies."
	default:
		return "That's an interesting question. I'd be happy to help you explore this topic further. Could you provide some more details about what you're trying to learn?"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
