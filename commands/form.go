package commands

// FieldType mirrors the data-form field types the messaging transport
// understands.
type FieldType string

const (
	FieldTextSingle FieldType = "text-single"
	FieldListSingle FieldType = "list-single"
)

// Option is one admissible value of a list field.
type Option struct {
	Label string
	Value string
}

// Field describes one value the caller must supply, with a sensible default
// already filled in.
type Field struct {
	Var      string
	Type     FieldType
	Label    string
	Value    string
	Required bool
	Options  []Option
}

// Form is the field descriptor offered on the first turn of an exchange.
type Form struct {
	Title        string
	Instructions string
	Fields       []Field
}

// Submission carries the values the caller filled in on the second turn.
type Submission map[string]string

// get returns the submitted value for a field, falling back to the offered
// default when the caller left it out.
func (s Submission) get(form *Form, varName string) string {
	if v, ok := s[varName]; ok {
		return v
	}
	for _, f := range form.Fields {
		if f.Var == varName {
			return f.Value
		}
	}
	return ""
}
