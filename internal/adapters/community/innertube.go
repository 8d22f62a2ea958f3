package community

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

const (
	browseEndpoint = "https://www.youtube.com/youtubei/v1/browse"

	clientName    = "WEB"
	clientVersion = "2.20240101.00.00"
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Параметр вкладки «Сообщество» в browse-запросе.
	communityTabParams = "Egljb21tdW5pdHk="
)

// InnertubeFetcher выгружает посты вкладки «Сообщество» через внутренний
// browse API YouTube.
type InnertubeFetcher struct {
	client   *http.Client
	endpoint string
	log      zerolog.Logger
}

// NewInnertubeFetcher создаёт фетчер постов сообщества.
func NewInnertubeFetcher(logger zerolog.Logger) *InnertubeFetcher {
	return &InnertubeFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: browseEndpoint,
		log:      logger,
	}
}

var _ domain.CommunityFetcher = (*InnertubeFetcher)(nil)

type browseRequest struct {
	Context  clientContext `json:"context"`
	BrowseID string        `json:"browseId"`
	Params   string        `json:"params,omitempty"`
}

type clientContext struct {
	Client innertubeClient `json:"client"`
}

type innertubeClient struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	HL            string `json:"hl"`
	GL            string `json:"gl"`
}

type browseResponse struct {
	Contents *struct {
		TwoColumnBrowseResultsRenderer *struct {
			Tabs []struct {
				TabRenderer *struct {
					Title   string `json:"title,omitempty"`
					Content *struct {
						SectionListRenderer *struct {
							Contents []struct {
								ItemSectionRenderer *struct {
									Contents []threadItem `json:"contents,omitempty"`
								} `json:"itemSectionRenderer,omitempty"`
							} `json:"contents,omitempty"`
						} `json:"sectionListRenderer,omitempty"`
					} `json:"content,omitempty"`
				} `json:"tabRenderer,omitempty"`
			} `json:"tabs,omitempty"`
		} `json:"twoColumnBrowseResultsRenderer,omitempty"`
	} `json:"contents,omitempty"`
	Metadata *struct {
		ChannelMetadataRenderer *struct {
			Title string `json:"title,omitempty"`
		} `json:"channelMetadataRenderer,omitempty"`
	} `json:"metadata,omitempty"`
}

type threadItem struct {
	BackstagePostThreadRenderer *struct {
		Post *struct {
			BackstagePostRenderer *postRenderer `json:"backstagePostRenderer,omitempty"`
		} `json:"post,omitempty"`
	} `json:"backstagePostThreadRenderer,omitempty"`
}

type postRenderer struct {
	PostID      string    `json:"postId,omitempty"`
	ContentText *textRuns `json:"contentText,omitempty"`
	AuthorText  *textRuns `json:"authorText,omitempty"`
	VoteCount   *struct {
		SimpleText string `json:"simpleText,omitempty"`
	} `json:"voteCount,omitempty"`
	BackstageAttachment *struct {
		BackstageImageRenderer *struct {
			Image *struct {
				Thumbnails []struct {
					URL string `json:"url,omitempty"`
				} `json:"thumbnails,omitempty"`
			} `json:"image,omitempty"`
		} `json:"backstageImageRenderer,omitempty"`
		VideoRenderer *struct {
			VideoID string `json:"videoId,omitempty"`
		} `json:"videoRenderer,omitempty"`
	} `json:"backstageAttachment,omitempty"`
}

type textRuns struct {
	Runs []struct {
		Text string `json:"text,omitempty"`
	} `json:"runs,omitempty"`
	SimpleText string `json:"simpleText,omitempty"`
}

func (t *textRuns) String() string {
	if t == nil {
		return ""
	}
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var b strings.Builder
	for _, run := range t.Runs {
		b.WriteString(run.Text)
	}
	return b.String()
}

// FetchPosts возвращает не более limit свежих постов вкладки «Сообщество».
// Browse API отдаёт только относительные даты, поэтому PublishedAt остаётся
// нулевым.
func (f *InnertubeFetcher) FetchPosts(ctx context.Context, channelID string, limit int) ([]domain.CommunityPost, error) {
	if limit <= 0 {
		limit = 20
	}

	var resp browseResponse
	err := retry.Do(
		func() error {
			return f.browse(ctx, channelID, &resp)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(3*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.log.Warn().Uint("attempt", n).Err(err).Str("channel_id", channelID).Msg("повтор browse запроса")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("browse community tab: %w", err)
	}

	channelName := ""
	if resp.Metadata != nil && resp.Metadata.ChannelMetadataRenderer != nil {
		channelName = resp.Metadata.ChannelMetadataRenderer.Title
	}

	posts := extractPosts(&resp, channelID, channelName)
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *InnertubeFetcher) browse(ctx context.Context, channelID string, out *browseResponse) error {
	body, err := json.Marshal(browseRequest{
		Context: clientContext{Client: innertubeClient{
			ClientName:    clientName,
			ClientVersion: clientVersion,
			HL:            "en",
			GL:            "US",
		}},
		BrowseID: channelID,
		Params:   communityTabParams,
	})
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.ObserveNetworkRequest("innertube", "browse", "community", start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Unrecoverable(fmt.Errorf("browse failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
		return fmt.Errorf("browse failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func extractPosts(resp *browseResponse, channelID, channelName string) []domain.CommunityPost {
	if resp.Contents == nil || resp.Contents.TwoColumnBrowseResultsRenderer == nil {
		return nil
	}

	var posts []domain.CommunityPost
	for _, tab := range resp.Contents.TwoColumnBrowseResultsRenderer.Tabs {
		tr := tab.TabRenderer
		if tr == nil || tr.Content == nil || tr.Content.SectionListRenderer == nil {
			continue
		}
		for _, section := range tr.Content.SectionListRenderer.Contents {
			if section.ItemSectionRenderer == nil {
				continue
			}
			for _, item := range section.ItemSectionRenderer.Contents {
				post := toPost(item, channelID, channelName)
				if post != nil {
					posts = append(posts, *post)
				}
			}
		}
	}
	return posts
}

func toPost(item threadItem, channelID, channelName string) *domain.CommunityPost {
	thread := item.BackstagePostThreadRenderer
	if thread == nil || thread.Post == nil || thread.Post.BackstagePostRenderer == nil {
		return nil
	}
	r := thread.Post.BackstagePostRenderer
	if r.PostID == "" {
		return nil
	}

	post := domain.CommunityPost{
		ID:          r.PostID,
		ChannelID:   channelID,
		ChannelName: channelName,
		Text:        r.ContentText.String(),
		URL:         "https://www.youtube.com/post/" + r.PostID,
	}
	if name := r.AuthorText.String(); name != "" {
		post.ChannelName = name
	}
	if r.VoteCount != nil {
		post.LikeCount = parseVoteCount(r.VoteCount.SimpleText)
	}
	if att := r.BackstageAttachment; att != nil {
		if att.BackstageImageRenderer != nil && att.BackstageImageRenderer.Image != nil {
			for _, thumb := range att.BackstageImageRenderer.Image.Thumbnails {
				if thumb.URL != "" {
					post.ImageURLs = append(post.ImageURLs, thumb.URL)
				}
			}
			// Берём только самое крупное превью.
			if len(post.ImageURLs) > 1 {
				post.ImageURLs = post.ImageURLs[len(post.ImageURLs)-1:]
			}
		}
		if att.VideoRenderer != nil {
			post.VideoID = att.VideoRenderer.VideoID
		}
	}
	return &post
}

func parseVoteCount(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1_000
		raw = strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		multiplier = 1_000_000
		raw = strings.TrimSuffix(raw, "M")
	}
	var value float64
	if _, err := fmt.Sscanf(raw, "%f", &value); err != nil {
		return 0
	}
	return int(value * multiplier)
}
