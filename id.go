package workhorse

import "github.com/coodoo-workhorse/workhorse-sub001/id"

// ID is the primary identifier type for all Workhorse entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
