package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sekailabs/sekai-memory/internal/model"
)

// LoadChapters reads a JSON array of chapters and returns them in chapter
// order.
func LoadChapters(path string) ([]model.Chapter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chapters %s: %w", path, err)
	}
	var chapters []model.Chapter
	if err := json.Unmarshal(b, &chapters); err != nil {
		return nil, fmt.Errorf("parse chapters %s: %w", path, err)
	}
	for i, ch := range chapters {
		if ch.Chapter < 1 {
			return nil, fmt.Errorf("chapters %s: entry %d has no chapter number", path, i)
		}
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Chapter < chapters[j].Chapter })
	return chapters, nil
}
