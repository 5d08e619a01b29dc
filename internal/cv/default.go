package cv

// Default returns the document a fresh or cleared store is seeded with.
func Default() Document {
	return Document{
		ID: NewID(),
		PersonalInfo: &PersonalInfo{
			Name:    "Your Name",
			Title:   "Software Engineer",
			Email:   "you@example.com",
			Website: "example.com",
		},
		Experiences: []Experience{
			{
				ID:       NewID(),
				Title:    "Software Engineer",
				Company:  "Example Corp",
				Location: "Remote",
				Period:   "2020 - Present",
				PeriodES: "2020 - Presente",
				PeriodFR: "2020 - Présent",
				Description: map[string][]string{
					"en": {"Describe what you built and the impact it had"},
					"es": {"Describe lo que construiste y su impacto"},
					"fr": {"Décrivez ce que vous avez construit et son impact"},
				},
			},
		},
		Education: []Education{
			{
				ID:          NewID(),
				Title:       "Computer Science",
				Institution: "Example University",
				Year:        "2015",
				Type:        "degree",
			},
		},
		Skills: map[string][]string{
			"languages": {"Go"},
			"tools":     {"Git"},
		},
		Languages: []Language{
			{Name: "English", Level: "Native", Proficiency: 100},
		},
		AboutDescription: map[string]string{
			"en": "A short introduction.",
			"es": "Una breve introducción.",
			"fr": "Une courte introduction.",
		},
	}
}
