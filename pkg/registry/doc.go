// Package registry implements the device node tree.
//
// A Registry owns one tree of Nodes rooted at the "devices root" node. Bus
// and platform code registers nodes with attributes and resources; the
// registry claims the resources, initializes the node's driver module
// (ancestors first), lets the driver register fixed children or enumerate
// its own, and otherwise discovers child drivers by scoring every driver
// module found under search paths derived from the node's type attributes.
//
// # Node lifecycle
//
//	Created -> Registered -> Probed (zero or more times) -> Removed -> Destroyed
//
// A node is created with one reference held by the tree. Every child link,
// every driver initialization and every handle returned by Root, Parent,
// NextChild and FindChild adds one. UnregisterNode notifies the node and
// all descendants (deepest first) and drops the tree's reference; the node
// is destroyed once the last holder calls Put.
//
// # Locking
//
// A single mutex guards the tree, attribute lists of registered nodes and
// calls into driver modules. Driver callbacks receive a context carrying
// the held lock; registry methods called with that context re-enter without
// locking again. Such a context must not be handed to other goroutines.
//
// # Devices
//
// Nodes publish devices by device module name. The registry wraps the
// module into a device.Device and hands it to the Publisher (devfs), which
// then owns its lifetime.
package registry
