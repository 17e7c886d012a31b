package app

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/store"
)

// BrowseService lists cached content by folder and by tag.
type BrowseService struct {
	Repo *store.DB
}

func NewBrowseService(repo *store.DB) *BrowseService {
	return &BrowseService{Repo: repo}
}

func (s *BrowseService) FolderArtists(ctx context.Context, serverID int64) ([]domain.FolderArtist, error) {
	return s.Repo.FolderArtists(ctx, serverID)
}

func (s *BrowseService) FolderAlbums(ctx context.Context, serverID int64, level int, parent string) ([]domain.FolderAlbum, error) {
	return s.Repo.FolderAlbums(ctx, serverID, level, parent)
}

// FolderSongs lists songs directly inside parent, which sits at level-1.
// An empty parent at level 0 lists the songs at the cache root.
func (s *BrowseService) FolderSongs(ctx context.Context, serverID int64, level int, parent string) ([]CachedItem, error) {
	var p *string
	if level > 0 {
		p = &parent
	}
	files, err := s.Repo.FolderSongs(ctx, serverID, level, p)
	if err != nil {
		return nil, err
	}

	items := make([]CachedItem, 0, len(files))
	for _, f := range files {
		song, err := s.Repo.Song(ctx, f.ServerID, f.SongID)
		if err != nil {
			return nil, err
		}
		items = append(items, CachedItem{CachedFile: f, Song: song})
	}
	return items, nil
}

func (s *BrowseService) TagArtists(ctx context.Context, serverID int64) ([]domain.TagArtist, error) {
	return s.Repo.TagArtists(ctx, serverID)
}

func (s *BrowseService) TagAlbums(ctx context.Context, serverID, artistID int64) ([]domain.TagAlbum, error) {
	return s.Repo.TagAlbums(ctx, serverID, artistID)
}

// SearchFolders fuzzy matches query against every cached folder name, best
// match first, shallower folders first on ties.
func (s *BrowseService) SearchFolders(ctx context.Context, serverID int64, query string, limit int) ([]domain.FolderAlbum, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.FolderAlbum{}, nil
	}
	if limit <= 0 {
		limit = constants.MaxSearchResults
	}

	folders, err := s.Repo.FolderNames(ctx, serverID)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}

	matches := fuzzy.RankFindNormalizedFold(query, names)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].OriginalIndex < matches[j].OriginalIndex
	})

	results := make([]domain.FolderAlbum, 0, min(len(matches), limit))
	for _, m := range matches {
		if len(results) == limit {
			break
		}
		results = append(results, folders[m.OriginalIndex])
	}
	return results, nil
}
