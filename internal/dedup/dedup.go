// Package dedup finds audio files that share title, artist and duration and
// removes all but the best copy.
//
// Matching is metadata equality only: files without tags all collide into the
// same group, so removal should be previewed with a dry run first.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cesargomez89/tubedrop/internal/audio"
	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/metrics"
)

// Cache stores fingerprints keyed by path, mtime and size.
type Cache interface {
	GetFingerprint(ctx context.Context, key string) (*domain.Fingerprint, error)
	PutFingerprint(ctx context.Context, key string, fp *domain.Fingerprint) error
	ClearFingerprints(ctx context.Context) (int64, error)
}

type Prober interface {
	Probe(ctx context.Context, path string) (audio.Info, error)
}

type Config struct {
	// LibraryDir is the canonical library; files under it score higher.
	LibraryDir string
}

type Deduplicator struct {
	cache  Cache
	prober Prober
	config Config
	logger *logger.Logger
}

func New(cache Cache, prober Prober, cfg Config, log *logger.Logger) *Deduplicator {
	return &Deduplicator{
		cache:  cache,
		prober: prober,
		config: cfg,
		logger: log.WithComponent("dedup"),
	}
}

// CacheKey identifies one version of a file on disk.
func CacheKey(path string, st fs.FileInfo) string {
	return fmt.Sprintf("%s_%d_%d", path, st.ModTime().UnixNano(), st.Size())
}

// Hash is the md5 of the normalized "title|artist|seconds" identifier.
func Hash(title, artist string, seconds int) string {
	id := fmt.Sprintf("%s|%s|%d",
		strings.ToLower(strings.TrimSpace(title)),
		strings.ToLower(strings.TrimSpace(artist)),
		seconds,
	)
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

// GetAudioFingerprint returns the fingerprint of path, reading the file only
// when the cache has no entry for its current mtime and size. Missing tags
// yield empty fields; an error means the file itself could not be read.
func (d *Deduplicator) GetAudioFingerprint(ctx context.Context, path string) (*domain.Fingerprint, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	key := CacheKey(path, st)
	if fp, err := d.cache.GetFingerprint(ctx, key); err != nil {
		d.logger.WithFile(path).Warn("Fingerprint cache read failed", "error", err)
	} else if fp != nil {
		return fp, nil
	}

	info, err := d.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	seconds := int(info.Duration)
	fp := &domain.Fingerprint{
		Title:           info.Title,
		Artist:          info.Artist,
		Album:           info.Album,
		DurationSeconds: seconds,
		Bitrate:         info.Bitrate,
		FileSize:        st.Size(),
		FilePath:        path,
		Format:          info.Format,
		Hash:            Hash(info.Title, info.Artist, seconds),
	}

	if err := d.cache.PutFingerprint(ctx, key, fp); err != nil {
		d.logger.WithFile(path).Warn("Fingerprint cache write failed", "error", err)
	}
	return fp, nil
}

func isAudio(path string) bool {
	return slices.Contains(constants.AudioExtensions, strings.ToLower(filepath.Ext(path)))
}

// FindDuplicates walks dirs and returns groups of two or more files sharing a
// fingerprint hash, sorted by key then hash. Files keep walk order.
func (d *Deduplicator) FindDuplicates(ctx context.Context, dirs ...string) ([]domain.DuplicateGroup, error) {
	groups := make(map[string]*domain.DuplicateGroup)
	seen := make(map[string]bool)

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				d.logger.WithFile(path).Warn("Cannot read path", "error", err)
				if entry != nil && entry.IsDir() && path != dir {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() || !isAudio(path) || seen[path] {
				return nil
			}
			seen[path] = true

			fp, err := d.GetAudioFingerprint(ctx, path)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				d.logger.WithFile(path).Warn("Skipping unreadable file", "error", err)
				metrics.RecordDedupSkipped()
				return nil
			}

			g, ok := groups[fp.Hash]
			if !ok {
				g = &domain.DuplicateGroup{
					Key:  fmt.Sprintf("%s - %s", fp.Title, fp.Artist),
					Hash: fp.Hash,
				}
				groups[fp.Hash] = g
			}
			g.Files = append(g.Files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	result := make([]domain.DuplicateGroup, 0)
	for _, g := range groups {
		if len(g.Files) > 1 {
			result = append(result, *g)
		}
	}
	slices.SortFunc(result, func(a, b domain.DuplicateGroup) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	return result, nil
}

// Score rates one candidate. Higher is better.
func (d *Deduplicator) Score(fp *domain.Fingerprint) float64 {
	score := float64(fp.Bitrate) / 1000
	score += formatBonus(fp.Format)
	if d.inLibrary(fp.FilePath) {
		score += constants.LibraryBonus
	}
	score += float64(fp.FileSize) / (1024 * 1024)
	return score
}

func formatBonus(format string) float64 {
	switch "." + strings.ToLower(format) {
	case constants.ExtFLAC:
		return constants.FormatBonusFLAC
	case constants.ExtM4A:
		return constants.FormatBonusM4A
	case constants.ExtMP3:
		return constants.FormatBonusMP3
	default:
		return 0
	}
}

func (d *Deduplicator) inLibrary(path string) bool {
	if d.config.LibraryDir == "" {
		return false
	}
	rel, err := filepath.Rel(d.config.LibraryDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SuggestBestVersion returns the highest scoring path. The first of equal
// scores wins. Unreadable candidates are never chosen unless every candidate
// is unreadable, in which case the first path is returned.
func (d *Deduplicator) SuggestBestVersion(ctx context.Context, paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	best, bestScore := "", 0.0
	for _, path := range paths {
		fp, err := d.GetAudioFingerprint(ctx, path)
		if err != nil {
			d.logger.WithFile(path).Warn("Cannot score file", "error", err)
			continue
		}
		if s := d.Score(fp); best == "" || s > bestScore {
			best, bestScore = path, s
		}
	}
	if best == "" {
		return paths[0]
	}
	return best
}

// RemoveDuplicates keeps the best file of every group. Other files are deleted
// only when autoRemove is set; otherwise the report counts what would go.
//
// Groups may come from a client, so every member is fingerprinted again and
// must be an audio file whose hash still equals the group hash. Members that
// fail the check are reported as failures and never deleted or kept. A failed
// delete is recorded and the batch continues.
func (d *Deduplicator) RemoveDuplicates(ctx context.Context, groups []domain.DuplicateGroup, autoRemove bool) (*domain.RemovalReport, error) {
	report := &domain.RemovalReport{
		Kept:   make([]string, 0, len(groups)),
		DryRun: !autoRemove,
	}

	for _, g := range groups {
		if len(g.Files) <= 1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		members := d.verifiedMembers(ctx, g, report)
		if len(members) <= 1 {
			continue
		}

		keep := d.SuggestBestVersion(ctx, members)
		report.Kept = append(report.Kept, keep)

		for _, path := range members {
			if path == keep {
				continue
			}
			if !autoRemove {
				report.Removed++
				continue
			}
			if err := os.Remove(path); err != nil {
				d.logger.WithFile(path).Warn("Could not remove duplicate", "error", err)
				report.Failures = append(report.Failures, domain.RemovalFailure{Path: path, Error: err.Error()})
				continue
			}
			d.logger.Info("Removed duplicate", "file_path", path, "kept", keep)
			report.Deleted = append(report.Deleted, path)
			report.Removed++
		}
	}

	if autoRemove {
		metrics.RecordDedupRemoval(report.Removed, len(report.Failures))
	}
	return report, nil
}

// verifiedMembers returns the distinct files of g that still fingerprint to
// g.Hash. Rejected files are added to the report.
func (d *Deduplicator) verifiedMembers(ctx context.Context, g domain.DuplicateGroup, report *domain.RemovalReport) []string {
	reject := func(path, reason string) {
		d.logger.WithFile(path).Warn("Skipping duplicate candidate", "reason", reason, "group", g.Key)
		report.Failures = append(report.Failures, domain.RemovalFailure{Path: path, Error: reason})
	}

	members := make([]string, 0, len(g.Files))
	seen := make(map[string]bool, len(g.Files))
	for _, path := range g.Files {
		if seen[path] {
			continue
		}
		seen[path] = true

		if !isAudio(path) {
			reject(path, "not an audio file")
			continue
		}
		fp, err := d.GetAudioFingerprint(ctx, path)
		if err != nil {
			reject(path, err.Error())
			continue
		}
		if g.Hash == "" || fp.Hash != g.Hash {
			reject(path, "fingerprint does not match group")
			continue
		}
		members = append(members, path)
	}
	return members
}

// DuplicateStats summarizes groups. Wasted space counts every file but the
// largest of each group.
func (d *Deduplicator) DuplicateStats(groups []domain.DuplicateGroup) domain.DuplicateStats {
	var stats domain.DuplicateStats
	for _, g := range groups {
		if len(g.Files) <= 1 {
			continue
		}
		stats.Groups++
		stats.DuplicateFiles += len(g.Files) - 1

		var total, largest int64
		for _, path := range g.Files {
			st, err := os.Stat(path)
			if err != nil {
				continue
			}
			total += st.Size()
			largest = max(largest, st.Size())
		}
		stats.WastedBytes += total - largest
	}
	stats.WastedMB = math.Round(float64(stats.WastedBytes)/(1024*1024)*100) / 100
	return stats
}

// ClearCache drops every cached fingerprint.
func (d *Deduplicator) ClearCache(ctx context.Context) (int64, error) {
	n, err := d.cache.ClearFingerprints(ctx)
	if err != nil {
		return 0, err
	}
	d.logger.Info("Fingerprint cache cleared", "entries", n)
	return n, nil
}
