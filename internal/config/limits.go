package config

import "time"

type Limits struct {
	MaxPromptSize int             `yaml:"max_prompt_size" validate:"required,min=1000,max=1000000"`
	MaxRetries    int             `yaml:"max_retries" validate:"required,min=1,max=10"`
	TotalTimeout  time.Duration   `yaml:"total_timeout" validate:"required,min=1m,max=24h"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPromptSize: 200000,
		MaxRetries:    3,
		TotalTimeout:  6 * time.Hour,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
	}
}

// Policy holds the tunable decision constants of the iteration core. These
// were policy choices in the original design, not contracts, so they are
// configuration rather than code.
type Policy struct {
	// ConfidenceThreshold below which intent analysis short-circuits into
	// a clarification request.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"required,gt=0,lte=1"`
	// ShortContentWords is the floor under which existing content is too
	// thin to patch safely.
	ShortContentWords int `yaml:"short_content_words" validate:"required,min=1"`
	// PatchWordBudget bounds how much of a long document is embedded in a
	// diff-generation prompt.
	PatchWordBudget int `yaml:"patch_word_budget" validate:"required,min=200"`
	// VariantCount and VariantFloor control concurrent outline variant
	// generation: how many to attempt and the minimum successes required.
	VariantCount int `yaml:"variant_count" validate:"required,min=1,max=4"`
	VariantFloor int `yaml:"variant_floor" validate:"required,min=1"`
	// BatchRetries is how many times a failed chapter batch is retried
	// before the whole run fails.
	BatchRetries int `yaml:"batch_retries" validate:"min=0,max=5"`
	// MaxChaptersPerBatch caps batch size regardless of model capacity.
	MaxChaptersPerBatch int `yaml:"max_chapters_per_batch" validate:"required,min=1,max=20"`
}

func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.8,
		ShortContentWords:   200,
		PatchWordBudget:     3000,
		VariantCount:        4,
		VariantFloor:        2,
		BatchRetries:        1,
		MaxChaptersPerBatch: 8,
	}
}
