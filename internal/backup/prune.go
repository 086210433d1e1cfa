package backup

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/remote"
)

type PruneOptions struct {
	// Keep is how many retained generations survive per package and user.
	Keep int
	// OlderThan ages retained generations out by their retention timestamp.
	// It applies only when Keep is not set; a positive Keep alone decides.
	OlderThan time.Duration
	Log       *logger.Logger
}

// ParseRetention reads a retention span, accepting a day suffix like "30d" on
// top of the time.ParseDuration units. Empty means no age limit.
func ParseRetention(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", s, err)
	}
	return d, nil
}

// Prune walks the target's apps tree and removes old retained generations.
// Generation 0 is the live backup and is never pruned; retained generations
// are ordered by their retention timestamp, newest first. Returns how many
// generations were removed.
func Prune(ctx context.Context, c remote.Client, opts PruneOptions) (int, error) {
	if opts.Keep <= 0 && opts.OlderThan <= 0 {
		return 0, nil
	}
	log := opts.Log
	if log == nil {
		log = logger.Noop()
	}

	pkgs, err := c.ListFiles(ctx, appsDir)
	if err != nil {
		if apperrors.IsType(err, apperrors.TypeNotFound) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, pkg := range pkgs.Dirs {
		users, err := c.ListFiles(ctx, path.Join(appsDir, pkg.Name))
		if err != nil {
			log.Warn("skipping package during prune", "package", pkg.Name, "error", err)
			continue
		}
		for _, user := range users.Dirs {
			userDir := path.Join(appsDir, pkg.Name, user.Name)
			gens, err := c.ListFiles(ctx, userDir)
			if err != nil {
				log.Warn("skipping user during prune", "path", userDir, "error", err)
				continue
			}

			var retained []int64
			for _, g := range gens.Dirs {
				id, err := strconv.ParseInt(g.Name, 10, 64)
				if err != nil || id == 0 {
					continue
				}
				retained = append(retained, id)
			}
			sort.Slice(retained, func(i, j int) bool { return retained[i] > retained[j] })

			for _, id := range doomed(retained, opts) {
				target := path.Join(userDir, strconv.FormatInt(id, 10))
				log.Info("pruning old generation",
					"package", pkg.Name, "user", user.Name, "generation", id)
				if err := c.DeleteRecursively(ctx, target); err != nil {
					log.Warn("failed to prune generation", "path", target, "error", err)
					continue
				}
				removed++
			}
		}
	}
	return removed, nil
}

// doomed picks the generations to delete from a newest-first ID list. A
// positive Keep retains exactly the newest Keep; otherwise OlderThan decides
// by age.
func doomed(retained []int64, opts PruneOptions) []int64 {
	if opts.Keep > 0 {
		if opts.Keep >= len(retained) {
			return nil
		}
		return retained[opts.Keep:]
	}

	cutoff := time.Now().Add(-opts.OlderThan).UnixMilli()
	var out []int64
	for _, id := range retained {
		if id < cutoff {
			out = append(out, id)
		}
	}
	return out
}
