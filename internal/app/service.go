package app

import (
	"time"

	"conda-pypi/internal/adapters"
	"conda-pypi/internal/ports"
)

type Service struct {
	Interpreter ports.InterpreterPort
	Prefix      ports.PrefixPort
	Wheels      ports.WheelReaderPort
	Converter   ports.ArtifactConverterPort
	Sources     ports.SourceBuilderPort
	Finders     ports.FinderProviderPort
	Channel     ports.ChannelIndexPort
	Mappings    ports.NameMappingSourcePort
	Clock       func() time.Time
}

func NewService() Service {
	converter := adapters.NewCondaBuildAdapter()
	return Service{
		Interpreter: adapters.NewInterpreterAdapter(),
		Prefix:      adapters.NewPrefixScanAdapter(),
		Wheels:      adapters.NewWheelArchiveAdapter(),
		Converter:   converter,
		Sources:     adapters.NewSourceBuilderAdapter(converter),
		Finders:     adapters.NewPackageIndexAdapter(),
		Channel:     adapters.NewChannelIndexAdapter(),
		Mappings:    adapters.NewNameMappingFileAdapter(),
		Clock:       time.Now,
	}
}
