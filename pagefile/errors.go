package pagefile

import "errors"

// ErrCorrupt indicates a read addressed bytes past the file's known tail,
// i.e. a caller trusted a pointer the file never wrote.
var ErrCorrupt = errors.New("pagefile: corrupt pointer")
