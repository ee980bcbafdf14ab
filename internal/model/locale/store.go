package locale

// Store exposes language lookup for the chat session and HTTP handlers.
type Store interface {
	List() []Language
	FindByCode(code string) (Language, bool)
	// Resolve never fails: unknown codes fall back to the default language,
	// and to the first seeded entry if even that is missing.
	Resolve(code string) Language
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Language
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied languages.
func NewMemoryStore(items []Language) *MemoryStore {
	return &MemoryStore{items: append([]Language(nil), items...)}
}

// List returns the supported languages in display order.
func (s *MemoryStore) List() []Language {
	return append([]Language(nil), s.items...)
}

// FindByCode looks up a language by its code.
func (s *MemoryStore) FindByCode(code string) (Language, bool) {
	for _, item := range s.items {
		if item.Code == code {
			return item, true
		}
	}
	return Language{}, false
}

func (s *MemoryStore) Resolve(code string) Language {
	if lang, ok := s.FindByCode(code); ok {
		return lang
	}
	if lang, ok := s.FindByCode(DefaultCode); ok {
		return lang
	}
	if len(s.items) > 0 {
		return s.items[0]
	}
	return Language{Code: DefaultCode, Name: "English", Greeting: "Hello! How can I help you today?"}
}
