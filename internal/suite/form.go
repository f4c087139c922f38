package suite

import (
	"fmt"
	"strings"
)

// File is one uploaded file attached to a submission form.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Form carries the scalar fields and files of one submission.
type Form struct {
	Fields map[string]string
	Files  []File
}

// NewForm builds an empty Form.
func NewForm() Form {
	return Form{Fields: map[string]string{}}
}

// Set assigns a scalar field.
func (f *Form) Set(key, value string) {
	if f.Fields == nil {
		f.Fields = map[string]string{}
	}
	f.Fields[key] = value
}

// Attach appends a file under field.
func (f *Form) Attach(file File) {
	f.Files = append(f.Files, file)
}

// With returns a copy of f with key set to value, leaving f untouched.
func (f Form) With(key, value string) Form {
	fields := make(map[string]string, len(f.Fields)+1)
	for k, v := range f.Fields {
		fields[k] = v
	}
	fields[key] = value
	return Form{Fields: fields, Files: f.Files}
}

// Value returns the trimmed scalar value for key.
func (f Form) Value(key string) string {
	return strings.TrimSpace(f.Fields[key])
}

// FileCount returns how many files were attached under field.
func (f Form) FileCount(field string) int {
	n := 0
	for _, file := range f.Files {
		if file.Field == field {
			n++
		}
	}
	return n
}

// Settings returns the scalar fields other than the prompt, for recording on
// the job.
func (f Form) Settings() map[string]any {
	out := make(map[string]any, len(f.Fields))
	for k, v := range f.Fields {
		if k == "prompt" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidationError describes a form that cannot be submitted.
type ValidationError struct {
	Type    JobType
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func invalid(t JobType, field, msg string) error {
	return &ValidationError{Type: t, Field: field, Message: msg}
}

// DefaultMergeLimit bounds merge uploads for models without a tighter limit.
const DefaultMergeLimit = 5

// MergeLimit returns how many images the given model accepts for a merge.
func MergeLimit(model string) int {
	if strings.Contains(strings.ToLower(model), "flash") {
		return 3
	}
	return DefaultMergeLimit
}

// Validate checks the type-specific required inputs before any network call.
func (t JobType) Validate(form Form) error {
	needPrompt := func() error {
		if form.Value("prompt") == "" {
			return invalid(t, "prompt", "please enter a prompt")
		}
		return nil
	}
	switch t {
	case TypeTextToVideo:
		return needPrompt()
	case TypeImageToVideo:
		if err := needPrompt(); err != nil {
			return err
		}
		if form.FileCount("image") != 1 {
			return invalid(t, "image", "please upload an image")
		}
	case TypeReferenceImages:
		if err := needPrompt(); err != nil {
			return err
		}
		if n := form.FileCount("reference_images"); n < 2 || n > 3 {
			return invalid(t, "reference_images", "please upload 2 to 3 reference images")
		}
	case TypeFirstLast:
		if err := needPrompt(); err != nil {
			return err
		}
		if form.FileCount("first_frame") != 1 || form.FileCount("last_frame") != 1 {
			return invalid(t, "first_frame", "please upload both frames")
		}
	case TypeExtendVideo:
		if err := needPrompt(); err != nil {
			return err
		}
		if form.Value("previous_operation_name") == "" && form.FileCount("base_video") == 0 {
			return invalid(t, "base_video", "please upload a video or select a previous job")
		}
	case TypeGenerate:
		return needPrompt()
	case TypeEdit, TypeRestore:
		if form.FileCount("file") == 0 {
			return invalid(t, "file", "please upload an image")
		}
	case TypeTryOn:
		if form.FileCount("product") == 0 || form.FileCount("person") == 0 {
			return invalid(t, "product", "please upload both product and person images")
		}
	case TypeAds:
		if form.FileCount("model") == 0 || form.FileCount("product") == 0 {
			return invalid(t, "model", "please upload both model and product images")
		}
	case TypeMerge:
		n := form.FileCount("files")
		if n < 2 {
			return invalid(t, "files", "please upload at least 2 images to merge")
		}
		if limit := MergeLimit(form.Value("model")); n > limit {
			return invalid(t, "files", fmt.Sprintf("at most %d images can be merged", limit))
		}
	case TypeScenes:
		if form.FileCount("scene") == 0 {
			return invalid(t, "scene", "please upload a scene image")
		}
	case TypeDirectorMovie:
		if form.Value("topic") == "" {
			return invalid(t, "topic", "please enter a movie topic")
		}
	case TypeExternal:
		return fmt.Errorf("%w: %s", ErrNotSubmittable, t)
	default:
		return fmt.Errorf("unknown job type %q", t)
	}
	return nil
}
