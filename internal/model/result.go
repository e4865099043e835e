package model

// FetchMeta describes the acquisition run.
type FetchMeta struct {
	URL           string      `json:"url"`
	NormalizedURL string      `json:"normalized_url"`
	Platform      Platform    `json:"platform"`
	ContentType   ContentType `json:"content_type"`
	FetchedAt     string      `json:"fetched_at"`
	PublishedAt   string      `json:"published_at"`
	NormalizeNote string      `json:"url_normalized_note"`

	// Set by the extraction stage.
	SignalsExtractedAt string `json:"signals_extracted_at,omitempty"`
}

// Artifacts lists every file the acquisition stage left behind.
type Artifacts struct {
	OutputDir    string       `json:"output_dir"`
	DownloadDir  string       `json:"download_dir"`
	AllFiles     []string     `json:"all_files"`
	ManualAssets ManualAssets `json:"manual_assets"`
}

// FetchResult is the contract written to fetch_result.json.
type FetchResult struct {
	OK                bool              `json:"ok"`
	Meta              FetchMeta         `json:"meta"`
	AssetIndex        AssetIndex        `json:"asset_index"`
	PostContent       PostContent       `json:"post_content"`
	EngagementMetrics EngagementMetrics `json:"engagement_metrics"`
	Artifacts         Artifacts         `json:"artifacts"`
	AdapterAttempts   []AdapterAttempt  `json:"adapter_attempts"`
	Error             *StructuredError  `json:"error,omitempty"`
}

// SignalsResult is the contract written to signals.json.
type SignalsResult struct {
	OK                bool              `json:"ok"`
	Meta              FetchMeta         `json:"meta"`
	AssetIndex        AssetIndex        `json:"asset_index"`
	PostContent       PostContent       `json:"post_content"`
	EngagementMetrics EngagementMetrics `json:"engagement_metrics"`
	Signals           Signals           `json:"signals"`
	Logs              []LogEntry        `json:"logs"`
	Limitations       []string          `json:"limitations"`
	Error             *StructuredError  `json:"error,omitempty"`
}

// StageStatus is the minimal view of any stage document: enough to decide
// whether the next stage may run.
type StageStatus struct {
	OK    bool             `json:"ok"`
	Error *StructuredError `json:"error,omitempty"`
}
