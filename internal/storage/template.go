package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cesargomez89/navicache/internal/domain"
)

// DefaultPathTemplate places songs the server reports without a path.
const DefaultPathTemplate = "{{.Artist}}/{{.Album}}/{{.Title}}"

// PathTemplateData holds the data for path template execution
type PathTemplateData struct {
	Artist string
	Album  string
	Title  string
	ID     int64
}

// BuildPath executes the template and returns the relative path (without extension)
func BuildPath(templateStr string, data *PathTemplateData) (string, error) {
	tmpl, err := template.New("path").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// BuildPathTemplateData creates PathTemplateData from song metadata. Blank
// fields get placeholders so no segment comes out empty.
func BuildPathTemplateData(s *domain.Song) *PathTemplateData {
	data := &PathTemplateData{
		Artist: Sanitize(orDefault(s.Artist, "Unknown Artist")),
		Album:  Sanitize(orDefault(s.Album, "Unknown Album")),
		Title:  Sanitize(orDefault(s.Title, fmt.Sprintf("%d", s.ID))),
		ID:     s.ID,
	}
	return data
}

// SongPath returns the relative cache path for a song: the server path when
// there is one, otherwise the template rendered with the song's tags.
func SongPath(templateStr string, s *domain.Song) (string, error) {
	if s.Path != "" {
		return filepath.ToSlash(s.Path), nil
	}
	if templateStr == "" {
		templateStr = DefaultPathTemplate
	}

	rel, err := BuildPath(templateStr, BuildPathTemplateData(s))
	if err != nil {
		return "", err
	}

	ext := s.Suffix
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return rel + ext, nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
