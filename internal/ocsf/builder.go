package ocsf

// Builder assembles an Event with the defaults used for Linux authentication logs.
type Builder struct {
	ev Event
}

func NewBuilder() *Builder {
	return &Builder{ev: Event{
		Metadata: Metadata{
			Version: SchemaVersion,
			Product: Product{
				VendorName: "Linux",
				Name:       "Authentication Logs",
				Version:    "system",
			},
			Profiles: []string{"host"},
		},
	}}
}

func (b *Builder) Metadata(m Metadata) *Builder { b.ev.Metadata = m; return b }

func (b *Builder) Category(uid int32, name string) *Builder {
	b.ev.CategoryUID, b.ev.CategoryName = uid, name
	return b
}

func (b *Builder) Class(uid int32, name string) *Builder {
	b.ev.ClassUID, b.ev.ClassName = uid, name
	return b
}

func (b *Builder) Time(ms int64) *Builder { b.ev.Time = ms; return b }

func (b *Builder) Type(uid int32, name string) *Builder {
	b.ev.TypeUID, b.ev.TypeName = uid, name
	return b
}

func (b *Builder) Activity(id int32, name string) *Builder {
	b.ev.ActivityID, b.ev.ActivityName = id, name
	return b
}

func (b *Builder) Status(name string, id int32) *Builder {
	b.ev.Status, b.ev.StatusID = name, id
	return b
}

func (b *Builder) Severity(name string, id int32) *Builder {
	b.ev.Severity, b.ev.SeverityID = name, id
	return b
}

func (b *Builder) User(u User) *Builder { b.ev.User = &u; return b }

func (b *Builder) Message(msg string) *Builder { b.ev.Message = &msg; return b }

// Build returns a copy so the builder can keep producing variants.
func (b *Builder) Build() *Event {
	ev := b.ev
	if b.ev.Metadata.Profiles != nil {
		ev.Metadata.Profiles = append([]string(nil), b.ev.Metadata.Profiles...)
	}
	return &ev
}
