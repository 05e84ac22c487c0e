package types

import "strings"

type Environment struct {
	Prefix         string
	Python         string
	PythonVersion  string
	Implementation string
	Platform       string
	Subdir         string
	Purelib        string
	Tags           []WheelTag
	Markers        map[string]string
}

// PythonMinor returns the "X.Y" part of the interpreter version.
func (e Environment) PythonMinor() string {
	parts := strings.Split(e.PythonVersion, ".")
	if len(parts) < 2 {
		return e.PythonVersion
	}
	return parts[0] + "." + parts[1]
}
