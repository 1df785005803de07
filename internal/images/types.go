package images

// identifies the search backend a candidate came from
type Provider string

const (
	// general open-media index
	ProviderOpenverse Provider = "openverse"
	// curated institutional media index
	ProviderWikimedia Provider = "wikimedia"
	// scientific imagery index
	ProviderNASA Provider = "nasa"
)

// a search result for a prospective slide image, in one shape for every backend
type Candidate struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	URL             string   `json:"url"`
	ThumbnailURL    string   `json:"thumbnail_url,omitempty"`
	LandingURL      string   `json:"landing_url,omitempty"`
	Provider        Provider `json:"provider"`
	License         string   `json:"license,omitempty"`
	Creator         string   `json:"creator,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	ProviderAssetID string   `json:"provider_asset_id,omitempty"`
	MIMEType        string   `json:"mime_type,omitempty"`

	// set by backends that flag adult or unsafe media
	Mature bool `json:"-"`
}

// a candidate annotated with its relevance score in [0,1]
type RankedCandidate struct {
	Candidate
	Confidence float64 `json:"confidence"`
}

// a displayable image; exactly one of EmbeddedData and ProxyURL is set
type ResolvedImage struct {
	SourceURL    string `json:"source_url"`
	EmbeddedData string `json:"embedded_data,omitempty"` // data:<mime>;base64,...
	ProxyURL     string `json:"proxy_url,omitempty"`
}

// returns the value a slide should use as its image src
func (r *ResolvedImage) Src() string {
	if r.ProxyURL != "" {
		return r.ProxyURL
	}

	return r.EmbeddedData
}
