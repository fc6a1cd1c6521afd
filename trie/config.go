package trie

// Config tunes a DB's cache sizes and on-disk layout. Zero values fall
// back to sane defaults in Open.
type Config struct {
	// Truncate discards any existing files at the database path instead
	// of opening them.
	Truncate bool
	// CacheSize bounds the clean-node cache, in bytes.
	CacheSize int
	// PageCacheSize bounds the node file's page cache, in bytes.
	PageCacheSize int
	// AHACacheSize bounds each AHA tier file's page cache, in bytes.
	AHACacheSize int
	// AHALens lists the tier capacities to maintain: a branch with n
	// present structural children (0-15, excluding its value slot) is
	// packed into the smallest configured capacity >= n, so sparser
	// branches land in smaller, cheaper tiers rather than always paying
	// for 16 slots.
	AHALens []int
	// ValueCacheSize sizes the DB facade's positive/negative value
	// cache at an assumed 256 bytes per entry: the cache holds
	// ValueCacheSize/256 entries, whatever their actual size.
	ValueCacheSize int
}

const (
	defaultCacheSize      = 32 << 20
	defaultPageCacheSize  = 16 << 20
	defaultAHACacheSize   = 8 << 20
	defaultValueCacheSize = 16 << 20
)

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.PageCacheSize <= 0 {
		c.PageCacheSize = defaultPageCacheSize
	}
	if c.AHACacheSize <= 0 {
		c.AHACacheSize = defaultAHACacheSize
	}
	if c.ValueCacheSize <= 0 {
		c.ValueCacheSize = defaultValueCacheSize
	}
	if len(c.AHALens) == 0 {
		c.AHALens = []int{4, 8, 12, 16}
	}
	return c
}
