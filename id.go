package dispatch

import "github.com/propagentic/dispatch/id"

// ID is the primary identifier type for all dispatch entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
