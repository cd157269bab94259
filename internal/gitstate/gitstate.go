// Package gitstate reads the working copy's VCS summary by shelling out
// to git. Every command shares the caller's context so a slow repository
// cannot outlive the gather deadline.
package gitstate

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/joestump/claude-pulse/internal/health"
)

// Collect gathers branch, ahead/behind counts, and dirtiness for the
// repository containing dir. A directory outside any repository returns
// (nil, nil): not an error, just no git block.
func Collect(ctx context.Context, dir string) (*health.GitState, error) {
	branch, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		// Not a repository, or git missing. Either way there is nothing to show.
		return nil, nil
	}

	st := &health.GitState{
		Branch:      strings.TrimSpace(branch),
		LastChecked: time.Now().UnixMilli(),
	}

	// Upstream may not exist; ahead/behind stay zero then.
	if counts, err := run(ctx, dir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); err == nil {
		st.Behind, st.Ahead = parseAheadBehind(counts)
	}

	if status, err := run(ctx, dir, "status", "--porcelain"); err == nil {
		st.Dirty = strings.TrimSpace(status) != ""
	}

	return st, nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(ctx, "git", full...).Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// parseAheadBehind parses `rev-list --left-right --count` output, which is
// "<behind>\t<ahead>" with upstream on the left.
func parseAheadBehind(out string) (behind, ahead int) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 2 {
		return 0, 0
	}
	behind, _ = strconv.Atoi(fields[0])
	ahead, _ = strconv.Atoi(fields[1])
	return behind, ahead
}
