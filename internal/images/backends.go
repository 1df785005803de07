package images

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultOpenverseURL = "https://api.openverse.org/v1/images/"
	defaultWikimediaURL = "https://commons.wikimedia.org/w/api.php"
	defaultNASAURL      = "https://images-api.nasa.gov/search"

	resultsPerRequest = 12
	userAgent         = "lessonforge/1.0 (+https://codeberg.org/lessonforge)"
)

// one search backend; raw response shapes never leave the implementation
type backend interface {
	provider() Provider
	search(ctx context.Context, query string) ([]Candidate, error)
}

// non-2xx reply from a backend
type statusError struct {
	provider Provider
	status   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s search failed with status %d", e.provider, e.status)
}

// 429 and 5xx are worth a second attempt
func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func getJSON(ctx context.Context, client *http.Client, p Provider, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{provider: p, status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", p, err)
	}

	return nil
}

// openverse

type openverseResponse struct {
	Results []struct {
		ID                string `json:"id"`
		Title             string `json:"title"`
		URL               string `json:"url"`
		Thumbnail         string `json:"thumbnail"`
		ForeignLandingURL string `json:"foreign_landing_url"`
		Creator           string `json:"creator"`
		License           string `json:"license"`
		LicenseVersion    string `json:"license_version"`
		Source            string `json:"source"`
		Tags              []struct {
			Name string `json:"name"`
		} `json:"tags"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Filetype string `json:"filetype"`
		Mature   bool   `json:"mature"`
	} `json:"results"`
}

type openverseBackend struct {
	client   *http.Client
	endpoint string
	token    string
}

func (b *openverseBackend) provider() Provider { return ProviderOpenverse }

func (b *openverseBackend) search(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("page_size", strconv.Itoa(resultsPerRequest))
	params.Set("mature", "false")

	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}

	var raw openverseResponse
	if err := getJSON(ctx, b.client, ProviderOpenverse, b.endpoint+"?"+params.Encode(), header, &raw); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(raw.Results))
	for _, r := range raw.Results {
		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			if t.Name != "" {
				tags = append(tags, t.Name)
			}
		}

		license := strings.TrimSpace(strings.ToUpper(r.License) + " " + r.LicenseVersion)

		out = append(out, Candidate{
			ID:              string(ProviderOpenverse) + ":" + r.ID,
			Title:           r.Title,
			URL:             r.URL,
			ThumbnailURL:    r.Thumbnail,
			LandingURL:      r.ForeignLandingURL,
			Provider:        ProviderOpenverse,
			License:         license,
			Creator:         r.Creator,
			Tags:            tags,
			Width:           r.Width,
			Height:          r.Height,
			ProviderAssetID: r.ID,
			MIMEType:        mimeFromExtension(r.Filetype),
			Mature:          r.Mature,
		})
	}

	return out, nil
}

// wikimedia commons

type wikimediaMeta struct {
	Value string `json:"value"`
}

type wikimediaResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID    int    `json:"pageid"`
			Title     string `json:"title"`
			Index     int    `json:"index"`
			ImageInfo []struct {
				URL            string `json:"url"`
				ThumbURL       string `json:"thumburl"`
				DescriptionURL string `json:"descriptionurl"`
				Width          int    `json:"width"`
				Height         int    `json:"height"`
				MIME           string `json:"mime"`
				ExtMetadata    struct {
					ImageDescription wikimediaMeta `json:"ImageDescription"`
					Artist           wikimediaMeta `json:"Artist"`
					LicenseShortName wikimediaMeta `json:"LicenseShortName"`
					Categories       wikimediaMeta `json:"Categories"`
					Restrictions     wikimediaMeta `json:"Restrictions"`
				} `json:"extmetadata"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

type wikimediaBackend struct {
	client   *http.Client
	endpoint string
}

func (b *wikimediaBackend) provider() Provider { return ProviderWikimedia }

func (b *wikimediaBackend) search(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("generator", "search")
	params.Set("gsrsearch", query)
	params.Set("gsrnamespace", "6")
	params.Set("gsrlimit", strconv.Itoa(resultsPerRequest))
	params.Set("prop", "imageinfo")
	params.Set("iiprop", "url|size|mime|extmetadata")
	params.Set("iiurlwidth", "1024")

	var raw wikimediaResponse
	if err := getJSON(ctx, b.client, ProviderWikimedia, b.endpoint+"?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	// pages come back keyed by id; the search rank lives in index
	pages := raw.Query.Pages
	keys := make([]string, 0, len(pages))
	for key := range pages {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if pages[keys[i]].Index != pages[keys[j]].Index {
			return pages[keys[i]].Index < pages[keys[j]].Index
		}
		return keys[i] < keys[j]
	})

	out := make([]Candidate, 0, len(keys))
	for _, key := range keys {
		page := pages[key]
		if len(page.ImageInfo) == 0 {
			continue
		}

		info := page.ImageInfo[0]
		meta := info.ExtMetadata

		var tags []string
		for _, cat := range strings.Split(meta.Categories.Value, "|") {
			if cat = strings.TrimSpace(cat); cat != "" {
				tags = append(tags, cat)
			}
		}

		id := strconv.Itoa(page.PageID)
		out = append(out, Candidate{
			ID:              string(ProviderWikimedia) + ":" + id,
			Title:           wikimediaTitle(page.Title),
			Description:     stripMarkup(meta.ImageDescription.Value),
			URL:             info.URL,
			ThumbnailURL:    info.ThumbURL,
			LandingURL:      info.DescriptionURL,
			Provider:        ProviderWikimedia,
			License:         meta.LicenseShortName.Value,
			Creator:         stripMarkup(meta.Artist.Value),
			Tags:            tags,
			Width:           info.Width,
			Height:          info.Height,
			ProviderAssetID: id,
			MIMEType:        info.MIME,
			Mature:          strings.Contains(strings.ToLower(meta.Restrictions.Value), "nsfw"),
		})
	}

	return out, nil
}

// "File:Salt crystals.jpg" -> "Salt crystals"
func wikimediaTitle(title string) string {
	title = strings.TrimPrefix(title, "File:")
	if i := strings.LastIndex(title, "."); i > 0 {
		title = title[:i]
	}

	return strings.ReplaceAll(title, "_", " ")
}

var markupPattern = regexp.MustCompile(`<[^>]*>`)

func stripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(markupPattern.ReplaceAllString(s, "")))
}

// nasa image and video library

type nasaResponse struct {
	Collection struct {
		Items []struct {
			Href string `json:"href"`
			Data []struct {
				NASAID           string   `json:"nasa_id"`
				Title            string   `json:"title"`
				Description      string   `json:"description"`
				Keywords         []string `json:"keywords"`
				MediaType        string   `json:"media_type"`
				Photographer     string   `json:"photographer"`
				SecondaryCreator string   `json:"secondary_creator"`
				Center           string   `json:"center"`
			} `json:"data"`
			Links []struct {
				Href   string `json:"href"`
				Rel    string `json:"rel"`
				Render string `json:"render"`
			} `json:"links"`
		} `json:"items"`
	} `json:"collection"`
}

type nasaBackend struct {
	client   *http.Client
	endpoint string
}

func (b *nasaBackend) provider() Provider { return ProviderNASA }

func (b *nasaBackend) search(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("media_type", "image")
	params.Set("page_size", strconv.Itoa(resultsPerRequest))

	var raw nasaResponse
	if err := getJSON(ctx, b.client, ProviderNASA, b.endpoint+"?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(raw.Collection.Items))
	for _, item := range raw.Collection.Items {
		if len(item.Data) == 0 {
			continue
		}

		data := item.Data[0]

		var preview string
		for _, link := range item.Links {
			if link.Rel == "preview" && link.Href != "" {
				preview = link.Href
				break
			}
		}

		if preview == "" {
			continue
		}

		creator := data.Photographer
		if creator == "" {
			creator = data.SecondaryCreator
		}
		if creator == "" {
			creator = "NASA"
		}

		mime := "image/jpeg"
		if data.MediaType != "image" {
			mime = data.MediaType
		}

		out = append(out, Candidate{
			ID:              string(ProviderNASA) + ":" + data.NASAID,
			Title:           data.Title,
			Description:     data.Description,
			URL:             strings.Replace(preview, "~thumb.", "~medium.", 1),
			ThumbnailURL:    preview,
			LandingURL:      "https://images.nasa.gov/details/" + url.PathEscape(data.NASAID),
			Provider:        ProviderNASA,
			License:         "Public Domain",
			Creator:         creator,
			Tags:            data.Keywords,
			ProviderAssetID: data.NASAID,
			MIMEType:        mime,
		})
	}

	return out, nil
}

func mimeFromExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	case "tif", "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "":
		return ""
	default:
		return "application/" + strings.ToLower(ext)
	}
}
