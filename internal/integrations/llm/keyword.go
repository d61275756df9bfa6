package llm

import (
	"context"
	"strings"
)

// themeMarkers are characters and phrases that recur in 志怪 and 异事
// titles: ghosts, spirits, retribution, portents.
var themeMarkers = []string{
	"鬼", "狐", "精", "妖", "怪", "魂", "魅", "仙", "神", "冥", "地狱",
	"报应", "善报", "恶报", "报恩", "雷击", "天谴", "雷殛", "显灵", "异", "奇", "梦",
}

// KeywordClassifier is an offline Classifier that accepts titles containing
// a theme marker. It needs no credentials and is meant for dry runs.
type KeywordClassifier struct{}

func (KeywordClassifier) Provider() string { return "keyword" }
func (KeywordClassifier) Model() string    { return "theme-characters" }

func (KeywordClassifier) Classify(ctx context.Context, titles []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matched []string
	for _, title := range titles {
		for _, marker := range themeMarkers {
			if strings.Contains(title, marker) {
				matched = append(matched, title)
				break
			}
		}
	}
	return matched, nil
}
