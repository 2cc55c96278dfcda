package usage

// Info is one provider's check-usage row, mirroring
// original_source/main.rs's CheckUsageInfo (camelCase on the wire via its
// own json tags, matched here for `cauth check-usage --json`).
type Info struct {
	Name            string         `json:"name"`
	Available       bool           `json:"available"`
	Error           bool           `json:"error"`
	FiveHourPercent *float64       `json:"fiveHourPercent,omitempty"`
	SevenDayPercent *float64       `json:"sevenDayPercent,omitempty"`
	FiveHourReset   *string        `json:"fiveHourReset,omitempty"`
	SevenDayReset   *string        `json:"sevenDayReset,omitempty"`
	Model           *string        `json:"model,omitempty"`
	Plan            *string        `json:"plan,omitempty"`
	Buckets         []InfoBucket   `json:"buckets,omitempty"`
}

// InfoBucket is one Gemini per-model quota bucket.
type InfoBucket struct {
	ModelID     string   `json:"modelId"`
	UsedPercent *float64 `json:"usedPercent,omitempty"`
	ResetAt     *string  `json:"resetAt,omitempty"`
}

// ErrorResult builds the "probe ran but failed" row: available=true
// (the provider is configured) with error=true and every metric absent.
func ErrorResult(name string) Info {
	return Info{Name: name, Available: true, Error: true}
}

func floatPtr(f float64) *float64 { return &f }
func stringPtr(s string) *string  { return &s }
