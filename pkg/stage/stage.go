// Package stage enumerates every progress identifier a pipeline channel can carry
// and the user-facing text shown for each.
package stage

import "fmt"

type Stage uint8

const (
	GetVideo Stage = iota
	GetTranscript
	GenerateTitle
	UpdateTitle
	GenerateDescription
	UpdateDescription
	CleanupThumbnail
	GeneratePrompt
	GenerateImage
	UploadThumbnail
	UpdateThumbnail
	MuxAssetReady
	Finished
	Error

	numStages
)

type entry struct {
	name    string
	display string
}

var table = [...]entry{
	GetVideo:            {"GetVideo", "Loading video details"},
	GetTranscript:       {"GetTranscript", "Reading the transcript"},
	GenerateTitle:       {"GenerateTitle", "Writing a title"},
	UpdateTitle:         {"UpdateTitle", "Saving the title"},
	GenerateDescription: {"GenerateDescription", "Writing a description"},
	UpdateDescription:   {"UpdateDescription", "Saving the description"},
	CleanupThumbnail:    {"CleanupThumbnail", "Removing the previous thumbnail"},
	GeneratePrompt:      {"GeneratePrompt", "Drafting an image prompt"},
	GenerateImage:       {"GenerateImage", "Generating the image"},
	UploadThumbnail:     {"UploadThumbnail", "Uploading the thumbnail"},
	UpdateThumbnail:     {"UpdateThumbnail", "Saving the thumbnail"},
	MuxAssetReady:       {"MuxAssetReady", "Video is ready"},
	Finished:            {"Finished", "Done"},
	Error:               {"Error", "Something went wrong"},
}

// Fails to compile when table and the constant block disagree in length.
var _ = [1]struct{}{}[len(table)-int(numStages)]

var byName = func() map[string]Stage {
	m := make(map[string]Stage, len(table))
	for i, e := range table {
		m[e.name] = Stage(i)
	}
	return m
}()

func (s Stage) Valid() bool {
	return s < numStages
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
	return table[s].name
}

// Display returns the user-facing status text.
func (s Stage) Display() string {
	if !s.Valid() {
		return ""
	}
	return table[s].display
}

func (s Stage) Terminal() bool {
	return s == Finished || s == Error
}

func Parse(name string) (Stage, error) {
	s, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

func All() []Stage {
	out := make([]Stage, 0, numStages)
	for s := Stage(0); s < numStages; s++ {
		out = append(out, s)
	}
	return out
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(table[s].name), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
