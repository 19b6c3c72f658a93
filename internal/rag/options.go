package rag

import "github.com/MrWong99/personae/pkg/memory"

// Retrieval defaults.
const (
	DefaultMaxResults    = 3
	DefaultMinSimilarity = 0.7
	DefaultRecencyFloor  = 0.1

	// recencyWindowDays is the age at which the recency factor reaches zero
	// before the floor is applied.
	recencyWindowDays = 30.0
)

// Options controls retrieval and scoring.
type Options struct {
	// MaxResults caps the number of memories returned.
	MaxResults int

	// MinSimilarity is the cosine-similarity floor applied to the unweighted
	// base score.
	MinSimilarity float64

	// MemoryTypes restricts retrieval to these types. Empty means all.
	MemoryTypes []memory.Type

	// WeightEmotional multiplies scores by (1 + emotional weight).
	WeightEmotional bool

	// BoostRecent multiplies scores by a linear recency decay.
	BoostRecent bool

	// RecencyFloor is the lowest recency factor an old memory can get.
	RecencyFloor float64
}

// DefaultOptions returns the standard retrieval options.
func DefaultOptions() Options {
	return Options{
		MaxResults:      DefaultMaxResults,
		MinSimilarity:   DefaultMinSimilarity,
		MemoryTypes:     memory.AllTypes(),
		WeightEmotional: true,
		BoostRecent:     true,
		RecencyFloor:    DefaultRecencyFloor,
	}
}

func (o Options) normalized() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MinSimilarity < 0 {
		o.MinSimilarity = 0
	}
	if len(o.MemoryTypes) == 0 {
		o.MemoryTypes = memory.AllTypes()
	}
	if o.RecencyFloor <= 0 || o.RecencyFloor > 1 {
		o.RecencyFloor = DefaultRecencyFloor
	}
	return o
}

// Option adjusts the options of a single retrieval.
type Option func(*Options)

// WithMaxResults sets [Options.MaxResults].
func WithMaxResults(n int) Option {
	return func(o *Options) { o.MaxResults = n }
}

// WithMinSimilarity sets [Options.MinSimilarity].
func WithMinSimilarity(s float64) Option {
	return func(o *Options) { o.MinSimilarity = s }
}

// WithMemoryTypes sets [Options.MemoryTypes].
func WithMemoryTypes(types ...memory.Type) Option {
	return func(o *Options) { o.MemoryTypes = types }
}

// WithEmotionalWeighting toggles [Options.WeightEmotional].
func WithEmotionalWeighting(on bool) Option {
	return func(o *Options) { o.WeightEmotional = on }
}

// WithRecencyBoost toggles [Options.BoostRecent].
func WithRecencyBoost(on bool) Option {
	return func(o *Options) { o.BoostRecent = on }
}

// WithOptions replaces the whole option set.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}
