package locale

// DefaultCode is used whenever no language has been selected yet.
const DefaultCode = "en"

// Language captures the localized strings the chat store needs.
type Language struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Native    string `json:"native"`
	Greeting  string `json:"greeting"`            // first message of every new chat
	DemoReply string `json:"demoReply,omitempty"` // canned reply when no model is configured
}

// Seed provides the languages offered on the language selection screen.
func Seed() []Language {
	return []Language{
		{
			Code:      "en",
			Name:      "English",
			Native:    "English",
			Greeting:  "Hello! How can I help you today?",
			DemoReply: "This is a demo response.",
		},
		{
			Code:      "hi",
			Name:      "Hindi",
			Native:    "हिन्दी",
			Greeting:  "नमस्ते! आज मैं आपकी कैसे मदद कर सकता हूँ?",
			DemoReply: "यह एक डेमो उत्तर है।",
		},
		{
			Code:      "ta",
			Name:      "Tamil",
			Native:    "தமிழ்",
			Greeting:  "வணக்கம்! இன்று நான் உங்களுக்கு எப்படி உதவ முடியும்?",
			DemoReply: "இது ஒரு டெமோ பதில்.",
		},
		{
			Code:      "bn",
			Name:      "Bengali",
			Native:    "বাংলা",
			Greeting:  "নমস্কার! আজ আমি আপনাকে কীভাবে সাহায্য করতে পারি?",
			DemoReply: "এটি একটি ডেমো উত্তর।",
		},
		{
			Code:      "gu",
			Name:      "Gujarati",
			Native:    "ગુજરાતી",
			Greeting:  "નમસ્તે! આજે હું તમારી કેવી રીતે મદદ કરી શકું?",
			DemoReply: "આ એક ડેમો જવાબ છે.",
		},
		{
			Code:      "mr",
			Name:      "Marathi",
			Native:    "मराठी",
			Greeting:  "नमस्कार! आज मी तुमची कशी मदत करू शकतो?",
			DemoReply: "हा एक डेमो उत्तर आहे.",
		},
		{
			Code:      "te",
			Name:      "Telugu",
			Native:    "తెలుగు",
			Greeting:  "నమస్కారం! ఈ రోజు నేను మీకు ఎలా సహాయం చేయగలను?",
			DemoReply: "ఇది ఒక డెమో సమాధానం.",
		},
		{
			Code:      "kn",
			Name:      "Kannada",
			Native:    "ಕನ್ನಡ",
			Greeting:  "ನಮಸ್ಕಾರ! ಇಂದು ನಾನು ನಿಮಗೆ ಹೇಗೆ ಸಹಾಯ ಮಾಡಬಹುದು?",
			DemoReply: "ಇದು ಒಂದು ಡೆಮೊ ಉತ್ತರ.",
		},
	}
}
