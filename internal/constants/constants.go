package constants

import "time"

const (
	// Sandbox naming
	SandboxPrefix    = "faultline-"
	HostnamePrefix   = "mongo-"
	SharedNetwork    = "faultline-net"
	PartitionNetwork = "faultline-part"

	// MongoDB node defaults
	MongoImage      = "mongo:7.0"
	MongoPort       = 27017
	MemoryLimitMB   = 512
	DefaultBasePort = 27017

	// Lifecycle waits
	NodeSettleTimeout    = 30 * time.Second
	MemberSettleTimeout  = 20 * time.Second
	ElectionTimeout      = 60 * time.Second
	StepDownPollInterval = 1 * time.Second
	StepDownPollWindow   = 15 * time.Second
	StepDownDefaultSecs  = 60
	StopGraceSeconds     = 10

	// Background polling
	MonitorInterval = 5 * time.Second
	LogPollInterval = 2 * time.Second
	LogTailLines    = 100

	// Admin connection limits
	ConnectTimeout         = 5 * time.Second
	ServerSelectionTimeout = 5 * time.Second

	// Partition enforcement
	BlackholeAddress = "240.0.0.1"
	HostsMarker      = "# faultline-partition"

	// Kubernetes runtime
	KubeNamespace = "faultline"
	KubeAppLabel  = "app=faultline"
)
