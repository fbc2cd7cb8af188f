package cache

import "github.com/AdguardTeam/golibs/errors"

// ErrCapacity is returned, wrapped in a panic, for a capacity less than one.
const ErrCapacity errors.Error = "capacity must be positive"
