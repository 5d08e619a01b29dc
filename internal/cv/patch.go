package cv

// Patch is a sparse update. Nil members are left untouched by Apply; non-nil
// members, including empty lists and maps, replace the stored value.
type Patch struct {
	PersonalInfo     *PersonalInfo       `json:"personalInfo,omitempty"`
	Experiences      []Experience        `json:"experiences,omitempty"`
	Education        []Education         `json:"education,omitempty"`
	Skills           map[string][]string `json:"skills,omitempty"`
	Languages        []Language          `json:"languages,omitempty"`
	AboutDescription map[string]string   `json:"aboutDescription,omitempty"`
}

// Fields lists the members set on p, in canonical order.
func (p Patch) Fields() []string {
	var out []string
	if p.PersonalInfo != nil {
		out = append(out, FieldPersonalInfo)
	}
	if p.Experiences != nil {
		out = append(out, FieldExperiences)
	}
	if p.Education != nil {
		out = append(out, FieldEducation)
	}
	if p.Skills != nil {
		out = append(out, FieldSkills)
	}
	if p.Languages != nil {
		out = append(out, FieldLanguages)
	}
	if p.AboutDescription != nil {
		out = append(out, FieldAboutDescription)
	}
	return out
}

func (p Patch) Empty() bool { return len(p.Fields()) == 0 }

// Apply merges p into d.
func (p Patch) Apply(d *Document) {
	if p.PersonalInfo != nil {
		pi := *p.PersonalInfo
		d.PersonalInfo = &pi
	}
	if p.Experiences != nil {
		d.Experiences = p.Experiences
	}
	if p.Education != nil {
		d.Education = p.Education
	}
	if p.Skills != nil {
		d.Skills = p.Skills
	}
	if p.Languages != nil {
		d.Languages = p.Languages
	}
	if p.AboutDescription != nil {
		d.AboutDescription = p.AboutDescription
	}
}
