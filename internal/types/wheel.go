package types

type WheelTag struct {
	Python   string
	ABI      string
	Platform string
}

func (t WheelTag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// WheelFilename is the decomposed form of
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl.
type WheelFilename struct {
	Filename string
	Name     string
	Version  string
	Build    string
	Tags     []WheelTag
}

type Requirement struct {
	Name      string
	Extras    []string
	Specifier string
	Marker    string
	URL       string
}

type EntryPoint struct {
	Name     string
	Module   string
	Function string
}

func (e EntryPoint) String() string {
	if e.Function == "" {
		return e.Name + " = " + e.Module
	}
	return e.Name + " = " + e.Module + ":" + e.Function
}

type WheelMetadata struct {
	Name           string
	Version        string
	Summary        string
	License        string
	HomePage       string
	RequiresPython string
	Requires       []Requirement
	ProvidesExtra  []string
	Tags           []WheelTag
	RootIsPurelib  bool
	ConsoleScripts []EntryPoint
	GUIScripts     []EntryPoint
	TopLevel       []string
	DistInfoDir    string
}

// IsPure reports whether every tag of the wheel is platform independent.
func (m WheelMetadata) IsPure() bool {
	if len(m.Tags) == 0 {
		return m.RootIsPurelib
	}
	for _, tag := range m.Tags {
		if tag.Platform != "any" {
			return false
		}
	}
	return true
}
