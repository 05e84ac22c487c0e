package types

type DistributionMode string

const (
	DistributionWheel    DistributionMode = "wheel"
	DistributionEditable DistributionMode = "editable"
)

type TreeState string

const (
	TreeStateInitialized TreeState = "initialized"
	TreeStateDiscovering TreeState = "discovering"
	TreeStateConverting  TreeState = "converting"
	TreeStateIndexing    TreeState = "indexing"
	TreeStateDone        TreeState = "done"
	TreeStateFailed      TreeState = "failed"
)

type NodeSource string

const (
	NodeSourceInstalled NodeSource = "installed"
	NodeSourceFetched   NodeSource = "fetched"
	NodeSourceMissing   NodeSource = "missing"
)

type NodeOutcome string

const (
	NodeOutcomeConverted NodeOutcome = "converted"
	NodeOutcomeSkipped   NodeOutcome = "skipped"
	NodeOutcomeExternal  NodeOutcome = "external"
	NodeOutcomeFailed    NodeOutcome = "failed"
	NodeOutcomeBlocked   NodeOutcome = "blocked"
)

const (
	NoarchSubdir      = "noarch"
	PureBuildString   = "pypi_0"
	CondaFormatV2     = 2
	RepodataVersion   = 1
	CondaExtension    = ".conda"
	WheelExtension    = ".whl"
	PrefixPlaceholder = "/opt/anaconda1anaconda2anaconda3"
)
