package types

type NodeKey struct {
	Name    string
	Version string
}

func (k NodeKey) String() string {
	if k.Version == "" {
		return k.Name
	}
	return k.Name + "==" + k.Version
}

type InstalledDistribution struct {
	Name        string
	Version     string
	DistInfo    string
	Metadata    WheelMetadata
	Tags        []WheelTag
	DirectURL   string
	EditableDir string
}

type DependencyNode struct {
	Key        NodeKey
	Source     NodeSource
	Dist       InstalledDistribution
	WheelPath  string
	Extras     []string
	Requires   []NodeKey
	External   bool
	Resolution error
}

type NodeFailure struct {
	Key     NodeKey
	Outcome NodeOutcome
	Err     error
}

type NodeResult struct {
	Key      NodeKey
	Outcome  NodeOutcome
	Artifact string
}

type TreeReport struct {
	State     TreeState
	Requested []string
	Nodes     int
	Results   []NodeResult
	Failures  []NodeFailure
	Index     IndexSummary
}
