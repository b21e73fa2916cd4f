package log

import "time"

// Event is one device manager event. Exactly one of the payload pointers is
// set. CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Session identifies the process run that wrote the event.
	Session string `cbor:"2,keyasint,omitempty"`

	// Layer that captured the event.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"4,keyasint"`

	// NodeID is the registry node the event is about (0 if none).
	NodeID uint32 `cbor:"5,keyasint,omitempty"`

	// Module is the driver or device module name involved.
	Module string `cbor:"6,keyasint,omitempty"`

	// Path is the devfs path or backing file path involved.
	Path string `cbor:"7,keyasint,omitempty"`

	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"`
	Driver      *DriverEvent      `cbor:"9,keyasint,omitempty"`
	Resource    *ResourceEvent    `cbor:"10,keyasint,omitempty"`
	Publish     *PublishEvent     `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerRegistry is the device node registry.
	LayerRegistry Layer = 0
	// LayerLegacy is the legacy driver layer.
	LayerLegacy Layer = 1
	// LayerDevfs is the device file system.
	LayerDevfs Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerRegistry:
		return "REGISTRY"
	case LayerLegacy:
		return "LEGACY"
	case LayerDevfs:
		return "DEVFS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState is a lifecycle state change.
	CategoryState Category = 0
	// CategoryDriver is a driver scoring or binding decision.
	CategoryDriver Category = 1
	// CategoryResource is a resource claim or release.
	CategoryResource Category = 2
	// CategoryPublish is a devfs entry being added or removed.
	CategoryPublish Category = 3
	// CategoryError is a failure.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryDriver:
		return "DRIVER"
	case CategoryResource:
		return "RESOURCE"
	case CategoryPublish:
		return "PUBLISH"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityNode is a registry node.
	StateEntityNode StateEntity = 0
	// StateEntityDriver is a node's driver module.
	StateEntityDriver StateEntity = 1
	// StateEntityDevice is a published device.
	StateEntityDevice StateEntity = 2
	// StateEntityImage is a legacy driver image.
	StateEntityImage StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityNode:
		return "NODE"
	case StateEntityDriver:
		return "DRIVER"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityImage:
		return "IMAGE"
	default:
		return "UNKNOWN"
	}
}

// DriverEvent captures one support score evaluated during discovery.
type DriverEvent struct {
	// Driver module that was asked.
	Driver string `cbor:"1,keyasint"`

	// Support is the returned score.
	Support float32 `cbor:"2,keyasint"`

	// Selected is set when the driver was bound.
	Selected bool `cbor:"3,keyasint,omitempty"`

	// SearchPath is the module directory the driver was found under.
	SearchPath string `cbor:"4,keyasint,omitempty"`
}

// ResourceEvent captures a resource claim.
type ResourceEvent struct {
	Type     string `cbor:"1,keyasint"`
	Base     uint64 `cbor:"2,keyasint"`
	Length   uint64 `cbor:"3,keyasint"`
	Acquired bool   `cbor:"4,keyasint"`
}

// PublishEvent captures a devfs entry change.
type PublishEvent struct {
	// Published is false for unpublish.
	Published bool `cbor:"1,keyasint"`

	// Partition is set for partition entries.
	Partition bool `cbor:"2,keyasint,omitempty"`

	// Offset and Size of a partition.
	Offset int64 `cbor:"3,keyasint,omitempty"`
	Size   int64 `cbor:"4,keyasint,omitempty"`

	// OldPath is set for renames.
	OldPath string `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
