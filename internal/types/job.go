package types

type ConversionJob struct {
	WheelPath     string
	ScratchDir    string
	OutputDir     string
	ChannelLayout bool
	TestDir       string
	NameMapping   NameMapping
	Environment   Environment
	Editable      bool
}

type SourceBuildJob struct {
	SourcePath    string
	Distribution  DistributionMode
	OutputDir     string
	ChannelLayout bool
	TestDir       string
	NameMapping   NameMapping
	Environment   Environment
}

type FetchedWheel struct {
	Path     string
	Filename string
	Name     string
	Version  string
	SHA256   string
	Reused   bool
}
